package utils

import (
	"context"
	"errors"
	e "memprobe/error"
	"memprobe/pkg/oracle"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"

	"gotest.tools/v3/assert"
)

func TestParseAddress(t *testing.T) {
	for in, want := range map[string]oracle.Address{
		"0x7ffe0000":         0x7ffe0000,
		"7ffe0000":           0x7ffe0000,
		" 0XFF ":             0xff,
		"0":                  0,
		"0xffffffffffffffff": oracle.Address(^uint64(0)),
	} {
		got, err := ParseAddress(in)
		assert.NilError(t, err, in)
		assert.Equal(t, got, want, in)
	}

	for _, in := range []string{"", "0x", "zz", "0x1ffffffffffffffff", "-1"} {
		_, err := ParseAddress(in)
		assert.Assert(t, errors.Is(err, e.ErrInvalidAddress), "%q: %v", in, err)
	}
}

func TestParseSize(t *testing.T) {
	n, err := ParseSize("0x1000")
	assert.NilError(t, err)
	assert.Equal(t, n, uint64(4096))

	n, err = ParseSize("4096")
	assert.NilError(t, err)
	assert.Equal(t, n, uint64(4096))

	_, err = ParseSize("page")
	assert.ErrorContains(t, err, "invalid size")
}

func TestFormatOutcome(t *testing.T) {
	assert.Equal(t, FormatOutcome(oracle.Mapped, nil), "mapped")
	assert.Equal(t, FormatOutcome(oracle.NotMapped, nil), "not mapped")
	assert.Equal(t, FormatOutcome(oracle.Indeterminate, context.DeadlineExceeded), "indeterminate: context deadline exceeded")
	assert.Equal(t, FormatOutcome(oracle.Indeterminate, nil), "indeterminate: probe outcome indeterminate")
}

func TestPrefixIn(t *testing.T) {
	assert.Assert(t, PrefixIn("[stack]", []string{"/usr", "[st"}))
	assert.Assert(t, !PrefixIn("[heap]", []string{"/usr", "[st"}))
	assert.Assert(t, !PrefixIn("[heap]", nil))
}

func TestCheckPid(t *testing.T) {
	assert.Assert(t, CheckPid(strconv.Itoa(os.Getpid())))
	assert.Assert(t, !CheckPid("no-such-pid"))
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/status", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	assert.Equal(t, GetClientIP(r), "10.0.0.7")
	assert.Equal(t, GetFullURL(r), "http://example.com/status")

	r.Header.Set("X-Forwarded-For", "192.168.1.2, 10.0.0.1")
	assert.Equal(t, GetClientIP(r), "192.168.1.2")
}
