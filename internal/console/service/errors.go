package service

import "errors"

var (
	ErrCustomerNotFound   = errors.New("customer not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidExpiry      = errors.New("expires_in_days out of range")
	ErrInvalidCustomer    = errors.New("customer_id is required")
	ErrSyncUnavailable    = errors.New("sync channel unavailable")
	ErrInvalidUser        = errors.New("invalid user")
)
