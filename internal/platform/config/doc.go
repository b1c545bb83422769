// Package config loads relay settings from the environment (and an optional .env file).
package config
