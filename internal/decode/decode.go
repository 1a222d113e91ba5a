// Package decode turns inbound stream messages into graph candidates.
//
// Producers disagree on field names (value vs magnitude, walletAddress vs
// origin), so fields are looked up through alias lists. Anything that cannot
// be turned into a well-formed candidate is rejected with ErrMalformed; the
// caller logs and drops it.
package decode

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lazypower/heatmap/internal/graph"
	"github.com/tidwall/gjson"
)

// ErrMalformed marks a message that cannot be applied.
var ErrMalformed = errors.New("malformed message")

// Message types the engine understands.
const (
	TypeInit        = "init"
	TypeTransaction = "transaction"
)

const maxLabelChars = 120

var (
	xKeys         = []string{"x", "position.x"}
	yKeys         = []string{"y", "position.y"}
	magnitudeKeys = []string{"magnitude", "value", "amount"}
	categoryKeys  = []string{"category", "type", "kind"}
	labelKeys     = []string{"label", "message"}
	originKeys    = []string{"origin", "walletAddress", "wallet", "from"}
	fromIDKeys    = []string{"fromId", "from_id", "source"}
	toIDKeys      = []string{"toId", "to_id", "target"}
)

// Message is one decoded stream message. Exactly one of Init and
// Transaction is set for known types; both are nil for unknown types.
type Message struct {
	Type        string
	Init        *Init
	Transaction *graph.Candidate
}

// Known reports whether the engine should act on the message.
func (m Message) Known() bool {
	return m.Init != nil || m.Transaction != nil
}

// Init seeds the store on connect.
type Init struct {
	Nodes       []graph.Candidate
	Connections []ConnectionSeed
	// Skipped counts seed entries dropped as malformed.
	Skipped int
}

// ConnectionSeed is a connection carried by an init message.
type ConnectionSeed struct {
	FromID string
	ToID   string
	Weight float64
	Kind   graph.Kind
}

// Positioner picks a position for events that arrive without one.
type Positioner func() (x, y float64)

// RandomPosition returns a Positioner that places points uniformly inside
// the surface reported by size, keeping a small margin from the edges.
func RandomPosition(rnd graph.Rand, size func() (w, h int)) Positioner {
	var mu sync.Mutex
	return func() (float64, float64) {
		w, h := size()
		margin := math.Min(20, math.Min(float64(w), float64(h))/4)
		mu.Lock()
		rx, ry := rnd.Float64(), rnd.Float64()
		mu.Unlock()
		x := margin + rx*(float64(w)-2*margin)
		y := margin + ry*(float64(h)-2*margin)
		return x, y
	}
}

// record is the validated shape of a transaction event.
type record struct {
	ID        string  `validate:"max=128"`
	X         float64 `validate:"finite"`
	Y         float64 `validate:"finite"`
	Magnitude float64 `validate:"finite,gte=0"`
	Origin    string  `validate:"required,max=256"`
}

// Decoder decodes messages. It is safe for concurrent use.
type Decoder struct {
	position Positioner
	validate *validator.Validate
}

// New creates a Decoder that assigns positions with pos when an event omits
// them.
func New(pos Positioner) *Decoder {
	v := validator.New()
	v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})
	return &Decoder{position: pos, validate: v}
}

// Decode parses one raw message.
func (d *Decoder) Decode(raw []byte) (Message, error) {
	if !gjson.ValidBytes(raw) {
		return Message{}, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Message{}, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	typ := root.Get("type").String()
	if typ == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	msg := Message{Type: typ}

	switch typ {
	case TypeTransaction:
		data := root.Get("data")
		if !data.IsObject() {
			return msg, fmt.Errorf("%w: transaction without data object", ErrMalformed)
		}
		c, err := d.Candidate(data)
		if err != nil {
			return msg, err
		}
		msg.Transaction = &c
	case TypeInit:
		msg.Init = d.init(root.Get("data"))
	}
	return msg, nil
}

// Candidate converts one event record into a validated candidate.
func (d *Decoder) Candidate(data gjson.Result) (graph.Candidate, error) {
	mag, ok, err := number(data, magnitudeKeys)
	if err != nil {
		return graph.Candidate{}, fmt.Errorf("%w: magnitude: %v", ErrMalformed, err)
	}
	if !ok {
		return graph.Candidate{}, fmt.Errorf("%w: missing magnitude", ErrMalformed)
	}

	x, hasX, err := number(data, xKeys)
	if err != nil {
		return graph.Candidate{}, fmt.Errorf("%w: x: %v", ErrMalformed, err)
	}
	y, hasY, err := number(data, yKeys)
	if err != nil {
		return graph.Candidate{}, fmt.Errorf("%w: y: %v", ErrMalformed, err)
	}
	if !hasX || !hasY {
		if d.position == nil {
			return graph.Candidate{}, fmt.Errorf("%w: missing position", ErrMalformed)
		}
		x, y = d.position()
	}

	rec := record{
		ID:        strings.TrimSpace(first(data, []string{"id"}).String()),
		X:         x,
		Y:         y,
		Magnitude: mag,
		Origin:    strings.TrimSpace(first(data, originKeys).String()),
	}
	if err := d.validate.Struct(rec); err != nil {
		return graph.Candidate{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	category := graph.ParseCategory(first(data, categoryKeys).String())
	label := strings.TrimSpace(first(data, labelKeys).String())
	if label == "" {
		label = string(category)
	}

	return graph.Candidate{
		ID:        rec.ID,
		X:         rec.X,
		Y:         rec.Y,
		Magnitude: rec.Magnitude,
		Category:  category,
		Label:     truncate(label, maxLabelChars),
		Origin:    rec.Origin,
		SentAt:    timestamp(data.Get("timestamp")),
	}, nil
}

// timestamp accepts RFC3339 strings and unix milliseconds. Anything else
// yields the zero time; the field is informational and never rejects.
func timestamp(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.Number:
		return time.UnixMilli(v.Int())
	case gjson.String:
		if t, err := time.Parse(time.RFC3339Nano, v.Str); err == nil {
			return t
		}
		if ms, err := strconv.ParseInt(v.Str, 10, 64); err == nil {
			return time.UnixMilli(ms)
		}
	}
	return time.Time{}
}

func (d *Decoder) init(data gjson.Result) *Init {
	in := &Init{}
	data.Get("nodes").ForEach(func(_, v gjson.Result) bool {
		c, err := d.Candidate(v)
		if err != nil {
			in.Skipped++
			return true
		}
		in.Nodes = append(in.Nodes, c)
		return true
	})
	data.Get("connections").ForEach(func(_, v gjson.Result) bool {
		seed, ok := connectionSeed(v)
		if !ok {
			in.Skipped++
			return true
		}
		in.Connections = append(in.Connections, seed)
		return true
	})
	return in
}

func connectionSeed(v gjson.Result) (ConnectionSeed, bool) {
	from := first(v, fromIDKeys).String()
	to := first(v, toIDKeys).String()
	if from == "" || to == "" {
		return ConnectionSeed{}, false
	}
	weight, ok, err := number(v, []string{"weight"})
	if err != nil || weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return ConnectionSeed{}, false
	}
	if !ok {
		weight = 1
	}
	return ConnectionSeed{
		FromID: from,
		ToID:   to,
		Weight: weight,
		Kind:   graph.ParseKind(first(v, []string{"kind", "type"}).String()),
	}, true
}

// first returns the first alias present with a non-null value.
func first(data gjson.Result, keys []string) gjson.Result {
	for _, k := range keys {
		if r := data.Get(k); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

// number reads a numeric field that may arrive as a JSON number or a
// numeric string.
func number(data gjson.Result, keys []string) (float64, bool, error) {
	r := first(data, keys)
	switch r.Type {
	case gjson.Null:
		return 0, false, nil
	case gjson.Number:
		return r.Num, true, nil
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, false, fmt.Errorf("not a number: %q", r.Str)
		}
		return f, true, nil
	default:
		return 0, false, fmt.Errorf("unexpected %s", r.Type)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back up to a rune boundary.
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
