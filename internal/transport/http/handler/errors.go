package handler

const (
	errInternalServer        = "Internal server error"
	errDigestNotFound        = "Digest schedule not found"
	errDigestNameConflict    = "A digest schedule with this name already exists"
	errDigestLimit           = "Digest schedule limit reached"
	errDigestAlreadyEnabled  = "Digest schedule is already enabled"
	errDigestAlreadyDisabled = "Digest schedule is already disabled"
	errConcurrentUpdate      = "Record was modified concurrently, retry the request"
)
