package auth

import "errors"

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")

	// ErrBadCredentials covers both unknown username and wrong password so the
	// login surface cannot be used to enumerate accounts.
	ErrBadCredentials = errors.New("auth: bad credentials")

	// ErrAccountDisabled marks a correct credential pair on a disabled account.
	// The HTTP boundary maps it to the same status as ErrBadCredentials.
	ErrAccountDisabled = errors.New("auth: account disabled")

	ErrUsernameTaken = errors.New("auth: username is already taken")
	ErrEmailTaken    = errors.New("auth: email is already in use")

	// ErrInvalidToken covers malformed, expired and tampered access tokens
	// uniformly; internal logs may distinguish, the response surface does not.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrTokenRefresh covers absent, expired and revoked refresh tokens.
	ErrTokenRefresh = errors.New("auth: refresh token rejected")

	// ErrInvalidHash marks a stored password hash the verifier cannot parse.
	ErrInvalidHash = errors.New("auth: invalid password hash format")

	// ErrRoleNotConfigured indicates missing seed data (the default role row),
	// a deployment defect rather than a client error.
	ErrRoleNotConfigured = errors.New("auth: default role is not configured")
)
