package outcome

import "strings"

// SwitchClass is the equipment class of switch-group items.
const SwitchClass = "SW"

// EquipmentClass derives the equipment class from an item identifier:
// switch-group items ("SW" prefix) map to SwitchClass, otherwise two leading
// digits, otherwise the first run of two digits anywhere. ok is false when
// no class can be derived.
func EquipmentClass(ciID string) (class string, ok bool) {
	if strings.HasPrefix(ciID, SwitchClass) {
		return SwitchClass, true
	}
	if len(ciID) >= 2 && isDigit(ciID[0]) && isDigit(ciID[1]) {
		return ciID[:2], true
	}
	for i := 0; i+1 < len(ciID); i++ {
		if isDigit(ciID[i]) && isDigit(ciID[i+1]) {
			return ciID[i : i+2], true
		}
	}
	return "", false
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
