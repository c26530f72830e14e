package tui

// Key identifies one decoded keystroke
type Key int

const (
	KeyChar Key = iota
	KeyUp
	KeyDown
	KeyDelete
	KeyEsc
	KeyEnter
	KeyBackspace
	KeyCtrlP
	KeyOther
)

// Input is one keyboard event; Char is set for KeyChar
type Input struct {
	Key  Key
	Char byte
}

// parseInput decodes a chunk of terminal input into keystrokes. A single
// read can carry several keys (pasted text) or a partial escape sequence;
// unrecognized bytes decode as KeyOther and are ignored upstream.
func parseInput(data []byte) []Input {
	var inputs []Input

	for i := 0; i < len(data); {
		b := data[i]
		switch {
		case b == 27:
			if i+2 < len(data) && data[i+1] == '[' {
				switch data[i+2] {
				case 'A':
					inputs = append(inputs, Input{Key: KeyUp})
					i += 3
					continue
				case 'B':
					inputs = append(inputs, Input{Key: KeyDown})
					i += 3
					continue
				case '3':
					if i+3 < len(data) && data[i+3] == '~' {
						inputs = append(inputs, Input{Key: KeyDelete})
						i += 4
						continue
					}
				}
			}
			inputs = append(inputs, Input{Key: KeyEsc})
			i++
		case b == 13:
			inputs = append(inputs, Input{Key: KeyEnter})
			i++
		case b == 127:
			inputs = append(inputs, Input{Key: KeyBackspace})
			i++
		case b == 16:
			// DLE, which is what ctrl-p arrives as
			inputs = append(inputs, Input{Key: KeyCtrlP})
			i++
		case b >= 33 && b <= 126:
			inputs = append(inputs, Input{Key: KeyChar, Char: b})
			i++
		default:
			inputs = append(inputs, Input{Key: KeyOther})
			i++
		}
	}

	return inputs
}
