package errors

import "fmt"

var (
	// Input validation
	ErrInvalidInput = fmt.Errorf("invalid input")

	// Authentication
	ErrUsernameTaken      = fmt.Errorf("username already taken")
	ErrUnknownUser        = fmt.Errorf("unknown user")
	ErrInvalidCredentials = fmt.Errorf("invalid username or password")
	ErrAlreadyLoggedIn    = fmt.Errorf("user already logged in")
	ErrNotAuthenticated   = fmt.Errorf("not authenticated")
	ErrTokenGeneration    = fmt.Errorf("token generation failed")

	// Capacity
	ErrServerFull        = fmt.Errorf("server full")
	ErrGroupFull         = fmt.Errorf("group full")
	ErrGroupRegistryFull = fmt.Errorf("maximum number of groups reached")

	// Groups
	ErrGroupNameTooShort = fmt.Errorf("group name too short")
	ErrGroupExists       = fmt.Errorf("group already exists")
	ErrGroupNotFound     = fmt.Errorf("group does not exist")
	ErrNotOwner          = fmt.Errorf("not the group owner")
	ErrNotInGroup        = fmt.Errorf("not in any group")
	ErrNotMember         = fmt.Errorf("not a member of the group")
	ErrWrongPassword     = fmt.Errorf("incorrect group password")

	// Messaging
	ErrSelfTarget       = fmt.Errorf("cannot send a direct message to yourself")
	ErrRecipientOffline = fmt.Errorf("recipient not found or not online")

	// Workers
	ErrWorkerPanic = fmt.Errorf("worker panic")
)
