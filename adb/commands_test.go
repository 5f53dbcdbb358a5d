package adb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeInputText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hello", "hello"},
		{"What is 2+2?", `What%sis%s2+2\?`},
		{"a & b; c", `a%s\&%sb\;%sc`},
		{`say "hi"`, `say%s\"hi\"`},
		{"line\nbreak", "line%sbreak"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, EscapeInputText(tt.in))
		})
	}
}

func TestTextCommands(t *testing.T) {
	assert.Equal(t, [][]string{{"shell", "input", "text", "hi%sthere"}}, TextCommands("hi there"))
	assert.Equal(t, [][]string{
		{"shell", "input", "text", "printf%s%"},
		{"shell", "input", "text", "s%sworks"},
	}, TextCommands("printf %s works"))
	assert.Equal(t, [][]string{
		{"shell", "input", "text", "%"},
		{"shell", "input", "text", "s"},
	}, TextCommands("%s"))
	assert.Equal(t, [][]string{{"shell", "input", "text", "100%%sdone"}}, TextCommands("100% done"),
		"a lone percent before a space stays literal")
	assert.Empty(t, TextCommands(""))
}

func TestUntypableRunes(t *testing.T) {
	assert.Empty(t, UntypableRunes("What is 2+2?\nThanks"))
	assert.Equal(t, []rune{'é', '€'}, UntypableRunes("café costs €3, café"))
}

func TestBuilders(t *testing.T) {
	assert.Equal(t, []string{"shell", "input", "tap", "540", "2210"}, TapArgs(540, 2210))
	assert.Equal(t, []string{"shell", "input", "keyevent", "66"}, KeyEventArgs(KeycodeEnter))
	assert.Equal(t, []string{"shell", "monkey", "-p", "ai.perplexity.app.android", "-c", "android.intent.category.LAUNCHER", "1"},
		LaunchAppArgs("ai.perplexity.app.android"))
	assert.Equal(t, []string{"shell", "getprop", "sys.boot_completed"}, ProbeArgs())
	assert.Equal(t, []string{"pull", "/sdcard/a.png", "/tmp/a.png"}, PullArgs("/sdcard/a.png", "/tmp/a.png"))
}
