package codec

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatepass/access-server/internal/model"
)

const testSecret = "test-credential-secret"

func TestCodec_RoundTrip(t *testing.T) {
	c := New(testSecret)

	for i := 0; i < 50; i++ {
		id := uuid.New().String()
		payload := c.QRPayload(id)

		assert.True(t, strings.HasPrefix(payload, "GP1."))
		assert.True(t, IsQRPayload(payload))

		decoded, err := c.Decode(payload)
		require.NoError(t, err)
		assert.Equal(t, id, decoded)
	}
}

func TestCodec_DeterministicPayload(t *testing.T) {
	c := New(testSecret)
	id := uuid.New().String()
	assert.Equal(t, c.QRPayload(id), c.QRPayload(id))
}

func TestCodec_DecodeMalformed(t *testing.T) {
	c := New(testSecret)
	id := uuid.New().String()
	valid := c.QRPayload(id)
	sig := valid[strings.LastIndex(valid, ".")+1:]

	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"plain text", "hello"},
		{"wrong prefix", "GP2." + id + "." + sig},
		{"missing signature", "GP1." + id},
		{"extra segment", valid + ".extra"},
		{"not a uuid", "GP1.not-a-uuid." + sig},
		{"short signature", "GP1." + id + "." + sig[:10]},
		{"non hex signature", "GP1." + id + "." + strings.Repeat("z", 64)},
		{"upper case signature", "GP1." + id + "." + strings.ToUpper(sig)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode(tt.payload)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "expected ErrMalformed, got %v", err)
		})
	}
}

func TestCodec_DecodeTampered(t *testing.T) {
	c := New(testSecret)
	id := uuid.New().String()
	other := uuid.New().String()
	valid := c.QRPayload(id)
	sig := valid[strings.LastIndex(valid, ".")+1:]

	t.Run("id swapped under original signature", func(t *testing.T) {
		_, err := c.Decode("GP1." + other + "." + sig)
		assert.ErrorIs(t, err, ErrTampered)
	})

	t.Run("payload signed with another secret", func(t *testing.T) {
		forged := New("another-secret").QRPayload(id)
		_, err := c.Decode(forged)
		assert.ErrorIs(t, err, ErrTampered)
	})
}

func TestCodec_SingleByteMutationNeverResolves(t *testing.T) {
	c := New(testSecret)
	id := uuid.New().String()
	payload := c.QRPayload(id)

	for i := 0; i < len(payload); i++ {
		b := []byte(payload)
		if b[i] == '0' {
			b[i] = '1'
		} else {
			b[i] = '0'
		}

		got, err := c.Decode(string(b))
		require.Error(t, err, "mutation at %d resolved to %q", i, got)
		assert.True(t, errors.Is(err, ErrMalformed) || errors.Is(err, ErrTampered),
			"mutation at %d produced unexpected error %v", i, err)
		assert.Empty(t, got)
	}
}

func TestGenerateShortCode(t *testing.T) {
	ctx := context.Background()
	pattern := regexp.MustCompile(`^[A-Z2-9]{4}-[A-Z2-9]{4}$`)

	t.Run("returns free code in canonical format", func(t *testing.T) {
		code, err := GenerateShortCode(ctx, func(ctx context.Context, code string) (bool, error) {
			return false, nil
		})
		require.NoError(t, err)
		assert.True(t, pattern.MatchString(code), "unexpected format %s", code)
		assert.Len(t, code, ShortCodeLength)
		assert.True(t, IsValidShortCode(code))
	})

	t.Run("retries on collision", func(t *testing.T) {
		calls := 0
		code, err := GenerateShortCode(ctx, func(ctx context.Context, code string) (bool, error) {
			calls++
			return calls < 3, nil
		})
		require.NoError(t, err)
		assert.NotEmpty(t, code)
		assert.Equal(t, 3, calls)
	})

	t.Run("fails after bounded retries", func(t *testing.T) {
		calls := 0
		_, err := GenerateShortCode(ctx, func(ctx context.Context, code string) (bool, error) {
			calls++
			return true, nil
		})
		assert.ErrorIs(t, err, ErrCodeGenerationExhausted)
		assert.Equal(t, MaxCodeAttempts, calls)
	})

	t.Run("propagates checker errors", func(t *testing.T) {
		_, err := GenerateShortCode(ctx, func(ctx context.Context, code string) (bool, error) {
			return false, errors.New("db down")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db down")
	})

	t.Run("excludes ambiguous characters", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			code, err := randomShortCode()
			require.NoError(t, err)
			assert.NotContains(t, code, "O")
			assert.NotContains(t, code, "I")
			assert.NotContains(t, code, "0")
			assert.NotContains(t, code, "1")
		}
	})
}

func TestShortCodeChars(t *testing.T) {
	assert.Len(t, shortCodeChars, 32)
	for _, ambiguous := range []string{"O", "I", "0", "1"} {
		assert.NotContains(t, shortCodeChars, ambiguous)
	}
}

func TestNormalizeShortCode(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"abcd-efgh", "ABCD-EFGH"},
		{"ABCDEFGH", "ABCD-EFGH"},
		{"  abcd efgh ", "ABCD-EFGH"},
		{"ab-cd-ef-gh", "ABCD-EFGH"},
		{"abc", "ABC"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeShortCode(tt.in), tt.in)
	}
}

func TestParseCredential(t *testing.T) {
	c := New(testSecret)
	payload := c.QRPayload(uuid.New().String())

	t.Run("sniffs qr payload without hint", func(t *testing.T) {
		cred, err := ParseCredential(payload, "")
		require.NoError(t, err)
		assert.Equal(t, KindQR, cred.Kind)
		assert.Equal(t, payload, cred.Value)
		assert.Equal(t, model.AccessMethodQRScan, cred.Method())
	})

	t.Run("treats other input as short code", func(t *testing.T) {
		cred, err := ParseCredential("wxyz2345", "")
		require.NoError(t, err)
		assert.Equal(t, KindShortCode, cred.Kind)
		assert.Equal(t, "WXYZ-2345", cred.Value)
		assert.Equal(t, model.AccessMethodManualCode, cred.Method())
	})

	t.Run("hint forces qr kind", func(t *testing.T) {
		cred, err := ParseCredential("garbage", model.AccessMethodQRScan)
		require.NoError(t, err)
		assert.Equal(t, KindQR, cred.Kind)
	})

	t.Run("rejects empty input", func(t *testing.T) {
		_, err := ParseCredential("   ", "")
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("rejects short code outside alphabet", func(t *testing.T) {
		_, err := ParseCredential("OOOO-1111", model.AccessMethodManualCode)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("rejects unsupported hint", func(t *testing.T) {
		_, err := ParseCredential("ABCD-EFGH", model.AccessMethodManualEntry)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestRenderQR(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"valid size", 512, false},
		{"default size", 0, false},
		{"size too small", 100, true},
		{"size too large", 5000, true},
	}

	payload := New(testSecret).QRPayload(uuid.New().String())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			png, err := RenderQR(payload, tt.size)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, png)
			assert.Equal(t, []byte("\x89PNG"), png[:4])
		})
	}
}
