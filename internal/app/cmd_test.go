package app

import (
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		args []string
		want Command
	}{
		{[]string{}, CommandServe},
		{[]string{"serve"}, CommandServe},
		{[]string{"migrate"}, CommandMigrate},
		{[]string{"probe"}, CommandProbe},
		{[]string{"healthcheck"}, CommandHealthcheck},
		{[]string{"unknown"}, CommandServe},
		{[]string{"probe", "--flag", "value"}, CommandProbe},
	}

	for _, tt := range tests {
		if got := ParseCommand(tt.args); got != tt.want {
			t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}
