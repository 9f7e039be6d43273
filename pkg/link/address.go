package link

import "fmt"

const (
	MinIdentifier = 1
	MaxIdentifier = 9999
)

// DeriveAddress maps a team identifier onto the robot's address.
// Four digits WXYZ give 10.WX.YZ.2; shorter identifiers give 10.0.<id>.2.
func DeriveAddress(identifier int) (string, error) {
	if identifier < MinIdentifier || identifier > MaxIdentifier {
		return "", fmt.Errorf("%w: %d", ErrInvalidIdentifier, identifier)
	}
	if identifier >= 1000 {
		return fmt.Sprintf("10.%d.%d.2", identifier/100, identifier%100), nil
	}
	return fmt.Sprintf("10.0.%d.2", identifier), nil
}
