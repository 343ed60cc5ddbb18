package bot

import (
	"fmt"
	"strconv"
	"strings"
)

// UserError carries a reply for the user. Handlers send Error() verbatim.
type UserError struct {
	Text string
}

func (e *UserError) Error() string { return e.Text }

func userErrorf(format string, args ...any) error {
	return &UserError{Text: fmt.Sprintf(format, args...)}
}

const msgNoClaim = "You don't have an active print claimed."

// ResolvePrinter picks the printer a command refers to. An explicit 1-based
// number must be in range and, when requireClaim is set, claimed by the
// user. Without one the user's single claim is used; zero or several claims
// are an error.
func ResolvePrinter(claimed []int, args []string, printerCount int, requireClaim bool) (int, error) {
	if requireClaim && len(claimed) == 0 {
		return 0, &UserError{Text: msgNoClaim}
	}

	if len(args) > 0 {
		num, err := strconv.Atoi(args[0])
		if err != nil {
			return 0, &UserError{Text: "Please provide a valid printer number."}
		}
		idx := num - 1
		if idx < 0 || idx >= printerCount {
			return 0, userErrorf("Invalid printer number. Use 1-%d", printerCount)
		}
		if requireClaim && !containsIndex(claimed, idx) {
			return 0, userErrorf("You haven't claimed Printer %d.", num)
		}
		return idx, nil
	}

	switch len(claimed) {
	case 0:
		return 0, &UserError{Text: msgNoClaim}
	case 1:
		return claimed[0], nil
	default:
		return 0, userErrorf("You have multiple prints claimed (%s). Please specify the printer number.", printerList(claimed))
	}
}

func containsIndex(list []int, idx int) bool {
	for _, v := range list {
		if v == idx {
			return true
		}
	}
	return false
}

func printerList(indexes []int) string {
	parts := make([]string, len(indexes))
	for i, idx := range indexes {
		parts[i] = strconv.Itoa(idx + 1)
	}
	return strings.Join(parts, ", ")
}
