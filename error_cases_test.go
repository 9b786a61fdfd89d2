package swupdate

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorRendering(t *testing.T) {
	cases := []struct {
		name string
		err  Error
		want []string
	}{
		{
			name: "with_cause",
			err:  Error{Code: LogicalBlockSize, LogicalBlockID: "0a", Err: fmt.Errorf("wrote 15 bytes, region declares 16")},
			want: []string{"LogicalBlockSize", "0a", "wrote 15 bytes"},
		},
		{
			name: "without_cause",
			err:  Error{Code: MissingLogicalBlock, LogicalBlockID: "ff"},
			want: []string{"MissingLogicalBlock", "ff"},
		},
		{
			name: "unknown_code",
			err:  Error{Code: Unknown, LogicalBlockID: "01"},
			want: []string{"Unknown", "01"},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			msg := c.err.Error()
			for _, w := range c.want {
				if !strings.Contains(msg, w) {
					t.Errorf("message %q missing %q", msg, w)
				}
			}
		})
	}
}

func TestErrorUnwrapAndAs(t *testing.T) {
	cause := fmt.Errorf("seek failed")
	var err error = Error{Code: LogicalBlockWrite, LogicalBlockID: "02", Err: cause}

	if !errors.Is(err, cause) {
		t.Errorf("expected errors.Is to reach the wrapped cause")
	}
	var ue Error
	if !errors.As(err, &ue) {
		t.Fatalf("expected errors.As to extract Error")
	}
	if ue.Code != LogicalBlockWrite || ue.LogicalBlockID != "02" {
		t.Errorf("unexpected extraction: %+v", ue)
	}

	// Wrapped one level deeper, it must still be extractable.
	wrapped := fmt.Errorf("applying block: %w", err)
	ue = Error{}
	if !errors.As(wrapped, &ue) || ue.Code != LogicalBlockWrite {
		t.Errorf("expected code to survive wrapping, got %+v", ue)
	}
}

func TestErrorCodeNames(t *testing.T) {
	names := map[ErrorCode]string{
		LogicalBlockRead:    "LogicalBlockRead",
		LogicalBlockWrite:   "LogicalBlockWrite",
		LogicalBlockSize:    "LogicalBlockSize",
		MissingLogicalBlock: "MissingLogicalBlock",
		VerificationFailed:  "VerificationFailed",
		Unknown:             "Unknown",
		ErrorCode(99):       "Unknown",
	}
	for code, want := range names {
		if got := code.String(); got != want {
			t.Errorf("code %d: got %q want %q", code, got, want)
		}
	}
}
