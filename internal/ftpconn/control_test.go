package ftpconn

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadResponse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		wantCode int
		wantMsg  string
		wantErr  bool
	}{
		{"single line", "220 Welcome\r\n", 220, "Welcome", false},
		{"negative", "550 File not found\r\n", 550, "File not found", false},
		{"empty message", "200 \r\n", 200, "", false},
		{"bare newline", "226 Done\n", 226, "Done", false},
		{
			name:     "multi line",
			input:    "150-Opening data connection\r\n150 for file.bin\r\n",
			wantCode: 150,
			wantMsg:  "Opening data connection\nfor file.bin",
		},
		{
			name:     "feature list",
			input:    "211-Features:\r\n SIZE\r\n EPSV\r\n211 End\r\n",
			wantCode: 211,
			wantMsg:  "Features:\nSIZE\nEPSV\nEnd",
		},
		{
			name:     "free text continuation",
			input:    "230-Welcome\r\nplease behave\r\n230 Login ok\r\n",
			wantCode: 230,
			wantMsg:  "Welcome\nplease behave\nLogin ok",
		},
		{"too short", "22\r\n", 0, "", true},
		{"bad code", "abc hello\r\n", 0, "", true},
		{"bad separator", "220xhello\r\n", 0, "", true},
		{"truncated multi line", "220-hello\r\n", 0, "", true},
		{"eof", "", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := readResponse(bufio.NewReader(strings.NewReader(tt.input)))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantMsg, resp.Message)
		})
	}
}

func TestResponseClasses(t *testing.T) {
	t.Parallel()
	assert.True(t, (&Response{Code: 150}).Preliminary())
	assert.False(t, (&Response{Code: 150}).Positive())
	assert.True(t, (&Response{Code: 226}).Positive())
	assert.False(t, (&Response{Code: 350}).Positive())
	assert.False(t, (&Response{Code: 550}).Preliminary())
}

func TestProtocolError(t *testing.T) {
	t.Parallel()
	err := newProtocolError("DELE", &Response{Code: 550, Message: "No such file or directory."})
	assert.Equal(t, "ftp: DELE failed: 550 No such file or directory.", err.Error())
	assert.True(t, err.Permanent())
	assert.False(t, err.Temporary())

	busy := &ProtocolError{Command: "STOR", Code: 452}
	assert.True(t, busy.Temporary())
	assert.False(t, busy.Permanent())
}

func TestParsePWD(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		`"/" is the current directory.`:        "/",
		`"/pub/incoming" is current directory`: "/pub/incoming",
		`"/a ""b"" c" is current directory`:    `/a "b" c`,
		`"/unterminated`:                       "/unterminated",
		`/no/quotes`:                           "/no/quotes",
	}
	for in, want := range tests {
		assert.Equal(t, want, parsePWD(in), in)
	}
}
