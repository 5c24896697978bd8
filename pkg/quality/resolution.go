package quality

import "fmt"

// CheckResolution compares reference and test dimensions. A mismatch is
// not fatal (spec §4.I): it is reported as a warning string so the caller
// can append it to the report and continue.
func CheckResolution(refW, refH, testW, testH int) (warning string, mismatched bool) {
	if refW == testW && refH == testH {
		return "", false
	}
	return fmt.Sprintf("resolution mismatch: reference is %dx%d, test is %dx%d", refW, refH, testW, testH), true
}
