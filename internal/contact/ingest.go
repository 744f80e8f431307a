package contact

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/thrillee/aegisbulk/pkg/codes"
)

const maxGroupPages = 10000

var (
	ErrEmptyInput    = errors.New("no contact rows in input")
	ErrNoPhoneColumn = errors.New("no phone column found in header")
)

// Accepted header aliases per field, compared lower-cased and trimmed.
var (
	nameAliases  = []string{"name", "full name", "fullname", "full_name", "contact name", "display name", "display_name"}
	phoneAliases = []string{"phone", "phone number", "phone_number", "phonenumber", "mobile", "mobile number", "msisdn", "number", "tel", "telephone", "contact"}
	emailAliases = []string{"email", "e-mail", "email address", "email_address", "mail"}
)

// Mapping names the source columns explicitly. Empty fields fall back to the alias table.
type Mapping struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// Page is a bounded window into a remote contact group.
type Page struct {
	Limit  int
	Offset int
}

// GroupSource fetches the members of a remote contact group.
type GroupSource interface {
	GetGroupContacts(ctx context.Context, groupID string, page Page) ([]Contact, error)
}

// Ingester turns raw sources into ordered contact lists.
type Ingester struct {
	pageSize int
}

func NewIngester(groupPageSize int) *Ingester {
	if groupPageSize <= 0 {
		groupPageSize = 100
	}
	return &Ingester{pageSize: groupPageSize}
}

// IngestCSV parses a delimited file. Comma, semicolon and tab are sniffed from the first line.
func (in *Ingester) IngestCSV(r io.Reader, m Mapping) (Result, error) {
	br := bufio.NewReader(r)
	first, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return Result{}, fmt.Errorf("failed to read csv: %w", err)
	}

	reader := csv.NewReader(br)
	reader.Comma = sniffDelimiter(first)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse csv: %w", err)
	}
	return in.fromTable(codes.SourceCSV, rows, m)
}

// IngestXLSX parses the first sheet of a spreadsheet.
func (in *Ingester) IngestXLSX(r io.Reader, m Mapping) (Result, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Result{}, ErrEmptyInput
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Result{}, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	return in.fromTable(codes.SourceXLSX, rows, m)
}

// IngestJSON parses an array of objects with arbitrary keys.
func (in *Ingester) IngestJSON(r io.Reader) (Result, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var objects []map[string]any
	if err := dec.Decode(&objects); err != nil {
		return Result{}, fmt.Errorf("failed to parse json: %w", err)
	}
	if len(objects) == 0 {
		return Result{}, ErrEmptyInput
	}

	res := Result{Source: codes.SourceJSON}
	mapped := false
	for _, obj := range objects {
		row := make(map[string]string, len(obj))
		for k, v := range obj {
			if v == nil {
				continue
			}
			row[normalizeKey(k)] = strings.TrimSpace(fmt.Sprint(v))
		}

		phoneKey, ok := firstAlias(row, phoneAliases)
		if !ok {
			res.Dropped++
			continue
		}
		mapped = true
		if row[phoneKey] == "" {
			res.Dropped++
			continue
		}
		nameKey, _ := firstAlias(row, nameAliases)
		emailKey, _ := firstAlias(row, emailAliases)

		c := New(row[nameKey], row[phoneKey], row[emailKey])
		c.Fields = extraFields(row, nameKey, phoneKey, emailKey)
		res.Contacts = append(res.Contacts, c)
	}
	if !mapped {
		return Result{}, ErrNoPhoneColumn
	}
	fillNames(res.Contacts)
	return res, nil
}

// IngestText splits pasted text on newlines, commas, semicolons and whitespace runs.
func (in *Ingester) IngestText(text string) (Result, error) {
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || unicode.IsSpace(r)
	})
	if len(tokens) == 0 {
		return Result{}, ErrEmptyInput
	}

	res := Result{Source: codes.SourceText, Contacts: make([]Contact, 0, len(tokens))}
	for _, tok := range tokens {
		res.Contacts = append(res.Contacts, New("", tok, ""))
	}
	fillNames(res.Contacts)
	return res, nil
}

// IngestGroup pages through a remote group until a page comes back empty.
// An empty group is reported, not an error.
func (in *Ingester) IngestGroup(ctx context.Context, src GroupSource, groupID string) (Result, error) {
	res := Result{Source: codes.SourceGroup}
	seen := make(map[string]struct{})

	page := Page{Limit: in.pageSize}
	for i := 0; i < maxGroupPages; i++ {
		batch, err := src.GetGroupContacts(ctx, groupID, page)
		if err != nil {
			return Result{}, fmt.Errorf("failed to fetch contacts for group %s (offset %d): %w", groupID, page.Offset, err)
		}
		for _, c := range batch {
			if strings.TrimSpace(c.RawPhone) == "" {
				res.Dropped++
				continue
			}
			if _, dup := seen[c.ID]; c.ID == "" || dup {
				c.ID = uuid.NewString()
			}
			seen[c.ID] = struct{}{}
			res.Contacts = append(res.Contacts, c)
		}
		// The platform may cap its page size below ours, so only an empty page ends the group.
		if len(batch) == 0 {
			break
		}
		page.Offset += len(batch)
	}

	if len(res.Contacts) == 0 && res.Dropped == 0 {
		res.Empty = true
		slog.InfoContext(ctx, "Contact group has no members", slog.String("group_id", groupID))
	}
	fillNames(res.Contacts)
	return res, nil
}

// fromTable maps header + rows into contacts.
func (in *Ingester) fromTable(source string, rows [][]string, m Mapping) (Result, error) {
	rows = trimBlankRows(rows)
	if len(rows) == 0 {
		return Result{}, ErrEmptyInput
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = normalizeKey(h)
	}
	phoneCol := columnFor(header, m.Phone, phoneAliases)
	nameCol := columnFor(header, m.Name, nameAliases)
	emailCol := columnFor(header, m.Email, emailAliases)

	data := rows[1:]
	if phoneCol < 0 {
		if m.Phone != "" || len(rows[0]) == 0 || !looksLikePhone(rows[0][0]) {
			return Result{}, ErrNoPhoneColumn
		}
		// Headerless single-column list of numbers
		phoneCol, nameCol, emailCol = 0, -1, -1
		header = nil
		data = rows
	}
	if len(data) == 0 {
		return Result{}, ErrEmptyInput
	}

	res := Result{Source: source, Contacts: make([]Contact, 0, len(data))}
	for _, row := range data {
		phone := cell(row, phoneCol)
		if phone == "" {
			res.Dropped++
			continue
		}
		c := New(cell(row, nameCol), phone, cell(row, emailCol))
		if header != nil {
			c.Fields = make(map[string]string)
			for i, key := range header {
				if i == phoneCol || i == nameCol || i == emailCol || key == "" {
					continue
				}
				c.Fields[key] = cell(row, i)
			}
		}
		res.Contacts = append(res.Contacts, c)
	}
	fillNames(res.Contacts)
	return res, nil
}

func sniffDelimiter(sample []byte) rune {
	line := sample
	if i := bytes.IndexByte(sample, '\n'); i >= 0 {
		line = sample[:i]
	}
	best, bestCount := ',', bytes.Count(line, []byte{','})
	for _, d := range []rune{';', '\t'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(k, "\ufeff")))
}

func columnFor(header []string, explicit string, aliases []string) int {
	if explicit != "" {
		want := normalizeKey(explicit)
		for i, h := range header {
			if h == want {
				return i
			}
		}
		return -1
	}
	for _, alias := range aliases {
		for i, h := range header {
			if h == alias {
				return i
			}
		}
	}
	return -1
}

func firstAlias(row map[string]string, aliases []string) (string, bool) {
	for _, alias := range aliases {
		if _, ok := row[alias]; ok {
			return alias, true
		}
	}
	return "", false
}

func extraFields(row map[string]string, skip ...string) map[string]string {
	out := make(map[string]string, len(row))
	for k, v := range row {
		out[k] = v
	}
	for _, k := range skip {
		delete(out, k)
	}
	delete(out, "")
	return out
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func trimBlankRows(rows [][]string) [][]string {
	out := rows[:0:0]
	for _, row := range rows {
		for _, v := range row {
			if strings.TrimSpace(v) != "" {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

func looksLikePhone(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 6
}

// fillNames synthesizes display names for rows that have none.
func fillNames(contacts []Contact) {
	for i := range contacts {
		if contacts[i].DisplayName == "" {
			contacts[i].DisplayName = fmt.Sprintf("Contact %d", i+1)
		}
	}
}
