package contexthelper

import "context"

// CheckCancellation returns ctx.Err() once ctx is done, nil otherwise.
// Call it before starting work that cannot be interrupted, such as scrypt.
func CheckCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
