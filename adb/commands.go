package adb

import (
	"fmt"
	"strings"
)

// Argument builders for the commands the automation issues. Everything after
// `adb -s <id>` is returned; the channel adds the device selector.

// ProbeArgs is the liveness check used by the health probe.
func ProbeArgs() []string {
	return []string{"shell", "getprop", "sys.boot_completed"}
}

func GetPropArgs(property string) []string {
	return []string{"shell", "getprop", property}
}

func WMSizeArgs() []string {
	return []string{"shell", "wm", "size"}
}

func BatteryArgs() []string {
	return []string{"shell", "dumpsys", "battery"}
}

func TapArgs(x, y int) []string {
	return []string{"shell", "input", "tap", fmt.Sprintf("%d", x), fmt.Sprintf("%d", y)}
}

func SwipeArgs(x1, y1, x2, y2, durationMs int) []string {
	return []string{"shell", "input", "swipe",
		fmt.Sprintf("%d", x1), fmt.Sprintf("%d", y1),
		fmt.Sprintf("%d", x2), fmt.Sprintf("%d", y2),
		fmt.Sprintf("%d", durationMs)}
}

// TextArgs types text through `input text`. A literal "%s" in text would be
// typed as a space; TextCommands handles that case.
func TextArgs(text string) []string {
	return []string{"shell", "input", "text", EscapeInputText(text)}
}

// TextCommands splits text into `input text` invocations that type it
// verbatim. The device turns every "%s" into a space with no way to escape
// it, so a literal "%s" is typed as "%" ending one call and "s" starting the
// next.
func TextCommands(text string) [][]string {
	parts := strings.Split(text, "%s")
	cmds := make([][]string, 0, len(parts))
	for i, part := range parts {
		if i > 0 {
			part = "s" + part
		}
		if i < len(parts)-1 {
			part += "%"
		}
		if part != "" {
			cmds = append(cmds, TextArgs(part))
		}
	}
	return cmds
}

// UntypableRunes returns the characters of text that `input text` cannot
// inject: anything outside printable ASCII other than the whitespace that
// EscapeInputText maps to spaces.
func UntypableRunes(text string) []rune {
	var out []rune
	seen := make(map[rune]bool)
	for _, r := range text {
		if (r >= 0x20 && r < 0x7f) || r == '\n' || r == '\t' || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func KeyEventArgs(keycode int) []string {
	return []string{"shell", "input", "keyevent", fmt.Sprintf("%d", keycode)}
}

// LaunchAppArgs starts the package's launcher activity.
func LaunchAppArgs(packageName string) []string {
	return []string{"shell", "monkey", "-p", packageName, "-c", "android.intent.category.LAUNCHER", "1"}
}

// FocusedWindowArgs asks the window manager which window has focus.
func FocusedWindowArgs() []string {
	return []string{"shell", "dumpsys window | grep -E 'mCurrentFocus|mFocusedApp'"}
}

func ScreencapArgs(remotePath string) []string {
	return []string{"shell", "screencap", "-p", remotePath}
}

func PullArgs(remotePath, localPath string) []string {
	return []string{"pull", remotePath, localPath}
}

func RemoveArgs(remotePath string) []string {
	return []string{"shell", "rm", "-f", remotePath}
}

// ExecOutScreencapArgs streams the PNG on stdout.
func ExecOutScreencapArgs() []string {
	return []string{"exec-out", "screencap", "-p"}
}

// shellSpecial are characters the device shell would interpret.
const shellSpecial = "\\'\"`$&|;<>()*?~#![]{}"

// EscapeInputText prepares text for `input text`: spaces become %s and shell
// metacharacters are backslash escaped.
func EscapeInputText(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r == ' ':
			b.WriteString("%s")
		case r == '\n' || r == '\t':
			b.WriteString("%s")
		case strings.ContainsRune(shellSpecial, r):
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
