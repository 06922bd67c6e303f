package captcha

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/idcstack/idc-control-plane/internal/apperr"
	"github.com/idcstack/idc-control-plane/internal/metrics"
)

// alphabet omits 0, o, 1 and i.
const (
	alphabet   = "abcdefghjklmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength = 4
	width      = 150
	height     = 50
	noiseLines = 3
)

type Challenge struct {
	ID  string `json:"id"`
	SVG string `json:"svg"`
}

type Service struct {
	store Store
	ttl   time.Duration
	code  func() (string, error)
}

func NewService(store Store, ttl time.Duration) *Service {
	return &Service{store: store, ttl: ttl, code: randomCode}
}

func (s *Service) Generate(ctx context.Context) (Challenge, error) {
	code, err := s.code()
	if err != nil {
		return Challenge{}, fmt.Errorf("generate captcha: %w", err)
	}
	id := uuid.NewString()
	if err := s.store.Set(ctx, id, strings.ToLower(code), s.ttl); err != nil {
		return Challenge{}, fmt.Errorf("store captcha: %w", err)
	}
	svg, err := render(code)
	if err != nil {
		return Challenge{}, fmt.Errorf("render captcha: %w", err)
	}
	return Challenge{ID: id, SVG: svg}, nil
}

// Verify consumes the challenge whether or not the answer matches.
func (s *Service) Verify(ctx context.Context, id, answer string) error {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(answer) == "" {
		return apperr.New(apperr.CodeMissingParameters, "captcha id and text are required")
	}
	want, ok, err := s.store.Take(ctx, id)
	if err != nil {
		return fmt.Errorf("load captcha: %w", err)
	}
	result := "ok"
	defer func() {
		metrics.Default().IncCounter("idc_captcha_verifications_total", map[string]string{"result": result})
	}()
	if !ok {
		result = "expired"
		return apperr.New(apperr.CodeInvalidInput, "captcha expired or not found")
	}
	if !strings.EqualFold(strings.TrimSpace(answer), want) {
		result = "mismatch"
		return apperr.New(apperr.CodeInvalidInput, "captcha mismatch")
	}
	return nil
}

func randomIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

func randomCode() (string, error) {
	var b strings.Builder
	for i := 0; i < codeLength; i++ {
		idx, err := randomIndex(len(alphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[idx])
	}
	return b.String(), nil
}

var palette = []string{"#2d6a4f", "#1d3557", "#9d0208", "#6a4c93", "#b5651d"}

func render(code string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0,0,%d,%d">`, width, height, width, height)
	fmt.Fprintf(&b, `<rect width="100%%" height="100%%" fill="#f0f0f0"/>`)

	for i := 0; i < noiseLines; i++ {
		pts := make([]int, 4)
		for j := range pts {
			limit := width
			if j%2 == 1 {
				limit = height
			}
			v, err := randomIndex(limit)
			if err != nil {
				return "", err
			}
			pts[j] = v
		}
		c, err := randomIndex(len(palette))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, `<path d="M%d %d L%d %d" stroke="%s" fill="none"/>`, pts[0], pts[1], pts[2], pts[3], palette[c])
	}

	step := width / (len(code) + 1)
	for i, ch := range code {
		tilt, err := randomIndex(41)
		if err != nil {
			return "", err
		}
		c, err := randomIndex(len(palette))
		if err != nil {
			return "", err
		}
		x := step * (i + 1)
		y := height/2 + 10
		fmt.Fprintf(&b, `<text x="%d" y="%d" font-family="monospace" font-size="32" fill="%s" transform="rotate(%d %d %d)">%c</text>`,
			x, y, palette[c], tilt-20, x, y, ch)
	}
	b.WriteString(`</svg>`)
	return b.String(), nil
}
