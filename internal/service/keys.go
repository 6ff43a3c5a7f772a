package service

import "strings"

var modifierCodes = map[string]bool{
	"ControlLeft": true, "ControlRight": true,
	"ShiftLeft": true, "ShiftRight": true,
	"AltLeft": true, "AltRight": true,
	"MetaLeft": true, "MetaRight": true,
}

var namedKeys = map[string]bool{
	"Enter": true, "Space": true, "Backspace": true, "Tab": true, "Escape": true,
	"CapsLock": true, "Delete": true, "Insert": true, "Home": true, "End": true,
	"PageUp": true, "PageDown": true,
	"ArrowUp": true, "ArrowDown": true, "ArrowLeft": true, "ArrowRight": true,
	"Minus": true, "Equal": true, "BracketLeft": true, "BracketRight": true,
	"Backslash": true, "Semicolon": true, "Quote": true, "Backquote": true,
	"Comma": true, "Period": true, "Slash": true,
}

// knownKey reports whether code (a KeyboardEvent.code) maps to a board key.
func knownKey(code string) bool {
	if namedKeys[code] {
		return true
	}
	switch {
	case strings.HasPrefix(code, "Key") && len(code) == 4:
		c := code[3]
		return c >= 'A' && c <= 'Z'
	case strings.HasPrefix(code, "Digit") && len(code) == 6:
		c := code[5]
		return c >= '0' && c <= '9'
	case strings.HasPrefix(code, "F") && len(code) <= 3:
		switch code[1:] {
		case "1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12":
			return true
		}
	}
	return false
}
