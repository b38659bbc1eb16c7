package models

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// Custom errors
var (
	ErrNotFound            = errors.New("record not found")
	ErrInvalidBatch        = errors.New("invalid prediction batch")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrBackupCollision     = errors.New("backup already exists")
	ErrBackupNotFound      = errors.New("backup not found")
	ErrPromotionInProgress = errors.New("another promotion is in progress")
)

var validate = validator.New()
