package fieldwork

// Err is a simple string error helper.
type Err string

func (e Err) Error() string { return string(e) }

var (
	ErrTaskExists      = Err("task already exists")
	ErrVersionConflict = Err("aggregate modified concurrently")
	ErrLockHeld        = Err("sweep lock held by another replica")
)
