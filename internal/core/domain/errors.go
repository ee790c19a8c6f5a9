package domain

import "errors"

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomAlreadyExists = errors.New("room already exists")
	ErrRouterNotReady    = errors.New("router not ready")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrConsumeNotAllowed = errors.New("consume not allowed")
	ErrWorkerFatal       = errors.New("media worker fatal failure")
)
