// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/pflag"
)

// Reply header constants
const (
	HeaderOK        = "--ok"
	HeaderError     = "--error"
	HeaderSessionID = "--sessionId"
)

// Reply is a decoded appliance reply
//
// A reply is a single header token, optionally followed by a payload. List
// payloads are quoted and semicolon-delimited:
//
//	--emulations "1;5;Acme;1;;0;admin;10:00;10:05"
type Reply struct {
	// Raw is the reply text with surrounding whitespace removed
	Raw string

	// Header is the leading flag token, e.g. "--emulations"
	Header string

	// Payload is the text after the header with one layer of quotes removed
	Payload string

	// Fields is Payload split on ';'
	Fields []string
}

// Decode splits a raw reply into header, payload and fields.
// It never fails; the typed decoders validate structure.
func Decode(raw string) Reply {
	raw = strings.TrimSpace(raw)
	r := Reply{Raw: raw}
	if raw == "" {
		return r
	}

	header, payload, found := strings.Cut(raw, " ")
	r.Header = header
	if !found {
		return r
	}

	r.Payload = unquote(strings.TrimSpace(payload))
	if r.Payload != "" {
		r.Fields = strings.Split(r.Payload, ";")
	}
	return r
}

// unquote strips one layer of matching single or double quotes
func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'') && first == last {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// OK reports whether the appliance acknowledged with a plain success reply
func (r Reply) OK() bool {
	return r.Raw == HeaderOK
}

// IsError reports whether the reply is an --error reply
func (r Reply) IsError() bool {
	return r.Header == HeaderError
}

// ErrorMessage returns the text of an --error reply, or "" for other replies
func (r Reply) ErrorMessage() string {
	if !r.IsError() {
		return ""
	}
	return r.Payload
}

// decodeError builds an ErrDecode error carrying the raw reply
func decodeError(op, msg, raw string) *IneError {
	return &IneError{
		Operation:   op,
		Kind:        ErrDecode,
		Message:     msg,
		InternalMsg: raw,
		Reply:       raw,
	}
}

// DecodeList decodes a count-prefixed, fixed-stride list reply
//
// The first field is the record count, followed by count*stride fields. A
// single trailing empty field left by a terminal ';' is tolerated. Any other
// size mismatch is an ErrDecode; partial results are never returned.
//
// Example:
//
//	rows, err := ine.DecodeList(`--emulations "1;5;Acme;1;;0;admin;t0;t1"`, "--emulations", 8)
//	// rows == [][]string{{"5", "Acme", "1", "", "0", "admin", "t0", "t1"}}
func DecodeList(raw, header string, stride int) ([][]string, error) {
	if stride < 1 {
		return nil, fmt.Errorf("invalid stride: %d", stride)
	}

	r := Decode(raw)
	if r.Header != header {
		return nil, decodeError("decode", fmt.Sprintf("expected %s reply, got %q", header, r.Header), r.Raw)
	}
	if len(r.Fields) == 0 {
		return nil, decodeError("decode", "missing record count", r.Raw)
	}

	count, err := strconv.Atoi(strings.TrimSpace(r.Fields[0]))
	if err != nil || count < 0 {
		return nil, decodeError("decode", fmt.Sprintf("invalid record count %q", r.Fields[0]), r.Raw)
	}

	rest := r.Fields[1:]
	want := count * stride
	switch {
	case len(rest) == want:
	case len(rest) == want+1 && rest[len(rest)-1] == "":
		rest = rest[:want]
	default:
		return nil, decodeError("decode",
			fmt.Sprintf("expected %d fields for %d records, got %d", want, count, len(rest)), r.Raw)
	}

	rows := make([][]string, 0, count)
	for i := 0; i < count; i++ {
		rows = append(rows, rest[i*stride:(i+1)*stride])
	}
	return rows, nil
}

// DecodeScalar decodes a single-value reply such as `--id 12`
func DecodeScalar(raw, header string) (string, error) {
	r := Decode(raw)
	if r.Header != header {
		return "", decodeError("decode", fmt.Sprintf("expected %s reply, got %q", header, r.Header), r.Raw)
	}
	if r.Payload == "" || strings.ContainsAny(r.Payload, " \t") {
		return "", decodeError("decode", fmt.Sprintf("expected a single %s value", header), r.Raw)
	}
	return r.Payload, nil
}

// decodeID decodes an integer scalar reply
func decodeID(raw, header string) (int, error) {
	v, err := DecodeScalar(raw, header)
	if err != nil {
		return 0, err
	}
	id, err := strconv.Atoi(v)
	if err != nil {
		return 0, decodeError("decode", fmt.Sprintf("non-numeric %s value %q", header, v), strings.TrimSpace(raw))
	}
	return id, nil
}

// VI settings flag vocabulary
const (
	viFlagID          = "id"
	viFlagName        = "name"
	viFlagUserGivenID = "setUserGivenId"
	viFlagType        = "vitype"
	viFlagGroup       = "groupname"
	viFlagX           = "xpos"
	viFlagY           = "ypos"
	viFlagWidth       = "width"
	viFlagHeight      = "height"
	viFlagDirection   = "objdir"
	viFlagImage       = "image"
	viFlagNotes       = "notes"
	viFlagMeta        = "meta"
	viFlagModule      = "procModule"
)

// DecodeVISettings decodes a --getVISettings reply into a VI
//
// The reply is tokenised with shell quoting rules and parsed as long flags.
// Repeated --procModule flags keep their order. Unknown flags, positional
// tokens and non-numeric geometry are ErrDecode; an --error reply means the
// VI does not exist and yields ErrNotFound.
func DecodeVISettings(raw string) (VI, error) {
	raw = strings.TrimSpace(raw)
	if r := Decode(raw); r.IsError() {
		return VI{}, &IneError{
			Operation:   "decode VI settings",
			Kind:        ErrNotFound,
			Message:     "VI not found",
			InternalMsg: r.ErrorMessage(),
			Reply:       raw,
		}
	}

	tokens, err := shellquote.Split(raw)
	if err != nil {
		return VI{}, decodeError("decode VI settings", "unbalanced quoting: "+err.Error(), raw)
	}

	fs := pflag.NewFlagSet("vi-settings", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false

	scalars := map[string]*string{}
	for _, name := range []string{
		viFlagID, viFlagName, viFlagUserGivenID, viFlagType, viFlagGroup,
		viFlagX, viFlagY, viFlagWidth, viFlagHeight, viFlagDirection,
		viFlagImage, viFlagNotes, viFlagMeta,
	} {
		scalars[name] = fs.String(name, "", "")
	}
	modules := fs.StringArray(viFlagModule, nil, "")

	if err := fs.Parse(tokens); err != nil {
		return VI{}, decodeError("decode VI settings", err.Error(), raw)
	}
	if fs.NArg() > 0 {
		return VI{}, decodeError("decode VI settings",
			fmt.Sprintf("unexpected positional token %q", fs.Arg(0)), raw)
	}
	if !fs.Changed(viFlagID) {
		return VI{}, decodeError("decode VI settings", "missing --id", raw)
	}

	vi := VI{
		Name:        *scalars[viFlagName],
		UserGivenID: *scalars[viFlagUserGivenID],
		Type:        *scalars[viFlagType],
		Group:       *scalars[viFlagGroup],
		Image:       *scalars[viFlagImage],
		Notes:       *scalars[viFlagNotes],
		Meta:        *scalars[viFlagMeta],
	}

	numbers := []struct {
		flag string
		dst  *int
	}{
		{viFlagID, &vi.ID},
		{viFlagX, &vi.X},
		{viFlagY, &vi.Y},
		{viFlagWidth, &vi.Width},
		{viFlagHeight, &vi.Height},
		{viFlagDirection, &vi.Direction},
	}
	for _, n := range numbers {
		if !fs.Changed(n.flag) {
			continue
		}
		v, err := parseGeometry(*scalars[n.flag])
		if err != nil {
			return VI{}, decodeError("decode VI settings",
				fmt.Sprintf("non-numeric --%s value %q", n.flag, *scalars[n.flag]), raw)
		}
		*n.dst = v
	}

	for _, m := range *modules {
		mod, err := ParseModule(m)
		if err != nil {
			return VI{}, decodeError("decode VI settings", err.Error(), raw)
		}
		vi.Modules = append(vi.Modules, mod)
	}

	return vi, nil
}

// parseGeometry accepts integers and integral decimals ("910" or "910.0")
func parseGeometry(s string) (int, error) {
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// optionalParent maps the -1 "no parent" marker to nil
func optionalParent(s string) (*int, error) {
	if s == "-1" || s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// optionalString maps the empty "no value" marker to nil
func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// parseFlagField interprets appliance boolean columns
func parseFlagField(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on", "running":
		return true
	}
	return false
}
