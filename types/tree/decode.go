package tree

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rotblauer/treetiles/stream"
	"github.com/tidwall/gjson"
)

var ErrNotObject = errors.New("not a JSON object")

// ScanJSONMessages reads a stream of JSON messages from an io.Reader,
// and calls onEach for each decoded message.
// If the stream is encoded as a JSON array, onEach is called
// for each element in the array; otherwise the stream is treated as
// newline (or whitespace) delimited objects.
func ScanJSONMessages(body io.Reader, onEach func(message json.RawMessage) error) error {
	buf := bufio.NewReader(body)
	first, err := peekNonSpace(buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	dec := json.NewDecoder(buf)
	if first == '[' {
		if _, err := dec.Token(); err != nil {
			return err
		}
	}
	for dec.More() {
		var msg json.RawMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("decode err: %T %w", err, err)
		}
		if err := onEach(msg); err != nil {
			return err
		}
	}
	return nil
}

func peekNonSpace(buf *bufio.Reader) (byte, error) {
	for {
		b, err := buf.Peek(1)
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsAny(b, " \t\r\n") {
			return b[0], nil
		}
		if _, err := buf.ReadByte(); err != nil {
			return 0, err
		}
	}
}

// DecodeRecord decodes one raw row. Numbers may be encoded as JSON numbers
// or numeric strings; anything that does not parse is treated as missing.
func DecodeRecord(msg []byte) (Record, error) {
	parsed := gjson.ParseBytes(msg)
	if !parsed.IsObject() {
		return Record{}, ErrNotObject
	}
	return Record{
		ID:         parsed.Get("tree_id").String(),
		CommonName: parsed.Get("common_name").String(),
		SiteInfo:   parsed.Get("site_info").String(),
		PlantDate:  parsed.Get("plant_date").String(),
		Species:    parsed.Get("species").String(),
		Longitude:  optFloat(parsed.Get("longitude")),
		Latitude:   optFloat(parsed.Get("latitude")),
		Magnitude:  optFloat(parsed.Get("diameter_at_breast_height")),
	}, nil
}

// DecodeSpecies decodes one enrichment row.
func DecodeSpecies(msg []byte) (Species, error) {
	parsed := gjson.ParseBytes(msg)
	if !parsed.IsObject() {
		return Species{}, ErrNotObject
	}
	s := Species{
		Species:        parsed.Get("species").String(),
		TreeCategory:   parsed.Get("tree_category").String(),
		NativeStatus:   parsed.Get("native_status").String(),
		MatureHeightFt: optFloat(parsed.Get("mature_height_ft")),
		BloomSeason:    parsed.Get("bloom_season").String(),
		WildlifeValue:  parsed.Get("wildlife_value").String(),
		FireRisk:       parsed.Get("fire_risk").String(),
	}
	if v := parsed.Get("is_evergreen"); v.IsBool() {
		b := v.Bool()
		s.IsEvergreen = &b
	}
	return s, nil
}

type decoded[T any] struct {
	row T
	err error
}

// decodeAll runs every message in r through decode, keeping the rows that
// decode and counting the rest in skipped.
func decodeAll[T any](r io.Reader, decode func([]byte) (T, error)) (rows []T, skipped int, err error) {
	ctx := context.Background()
	msgs := make(chan json.RawMessage)
	var scanErr error
	go func() {
		defer close(msgs)
		scanErr = ScanJSONMessages(r, func(msg json.RawMessage) error {
			msgs <- msg
			return nil
		})
	}()

	results := stream.Transform(ctx, func(msg json.RawMessage) decoded[T] {
		row, err := decode(msg)
		return decoded[T]{row: row, err: err}
	}, msgs)
	valid := stream.Filter(ctx, func(d decoded[T]) bool {
		if d.err != nil {
			skipped++
			return false
		}
		return true
	}, results)
	rows = stream.Collect(ctx, stream.Transform(ctx, func(d decoded[T]) T { return d.row }, valid))
	return rows, skipped, scanErr
}

// ReadRecords decodes every record in r.
// Messages that are not objects are counted in skipped rather than failing the read.
func ReadRecords(r io.Reader) (records []Record, skipped int, err error) {
	return decodeAll(r, DecodeRecord)
}

// ReadSpecies decodes every enrichment row in r.
func ReadSpecies(r io.Reader) (rows []Species, skipped int, err error) {
	return decodeAll(r, DecodeSpecies)
}

// optFloat returns nil for absent, unparseable and non-finite values.
func optFloat(res gjson.Result) *float64 {
	var v float64
	switch res.Type {
	case gjson.Number:
		v = res.Num
	case gjson.String:
		var err error
		v, err = strconv.ParseFloat(strings.TrimSpace(res.Str), 64)
		if err != nil {
			return nil
		}
	default:
		return nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
