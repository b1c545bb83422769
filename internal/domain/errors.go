package domain

import "errors"

var (
	ErrChannelAlreadyExists = errors.New("channel already exists")
	ErrChannelNotFound      = errors.New("channel not found")
	ErrDeliveryFailed       = errors.New("delivery failed")
	ErrPeerClosed           = errors.New("peer closed")
	ErrSendQueueFull        = errors.New("send queue full")
	ErrRegistryStopped      = errors.New("registry stopped")
)
