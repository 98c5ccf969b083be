package session

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sidneyarfe/divideai/internal/bill"
	"github.com/sidneyarfe/divideai/internal/scanning"
)

// IDGenerator generates unique IDs for sessions
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service walks a table through splitting one bill
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
	locks       sessionLocks
}

// sessionLocks serializes read-modify-write cycles per session
type sessionLocks struct {
	mu   sync.Mutex
	byID map[string]*sync.Mutex
}

// lock blocks until the session is free and returns its unlock func
func (l *sessionLocks) lock(id string) func() {
	l.mu.Lock()
	if l.byID == nil {
		l.byID = make(map[string]*sync.Mutex)
	}
	m, ok := l.byID[id]
	if !ok {
		m = &sync.Mutex{}
		l.byID[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// forget drops the lock of a deleted session
func (l *sessionLocks) forget(id string) {
	l.mu.Lock()
	delete(l.byID, id)
	l.mu.Unlock()
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, scanner scanning.Scanner, storage Storage) *Service {
	return NewServiceWithDeps(db, scanner, storage, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename tames long phone-generated filenames
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// ProcessReceipt stores the photo, extracts the bill and opens a session on it.
// A failed extraction leaves nothing behind.
func (s *Service) ProcessReceipt(filename string, data []byte, contentType string) (*Session, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	receiptData, err := s.scanner.ScanReceipt(data, contentType)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.storage.Delete(savedPath)
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}

	b := bill.New(receiptData.Establishment, receiptData.ServicePercent)
	for _, line := range receiptData.Items {
		b.AddLine(line.Name, line.Quantity, line.TotalValue)
	}

	sess := &Session{
		ID:            id,
		Step:          StepVerify,
		Bill:          b,
		OptIns:        bill.OptIns{},
		ImageFilename: savedPath,
		ContentType:   contentType,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.db.SaveSession(sess); err != nil {
		s.storage.Delete(savedPath)
		return nil, fmt.Errorf("saving session to database: %w", err)
	}

	slog.Info("Receipt processed",
		"session_id", id,
		"establishment", b.Establishment,
		"items", len(b.Items),
		"service_percent", b.ServicePercent,
	)
	return sess, nil
}

// StartManual opens a session on a blank bill for typing items by hand
func (s *Service) StartManual() (*Session, error) {
	now := s.timeSource.Now()
	sess := &Session{
		ID:        s.idGenerator.Generate(),
		Step:      StepVerify,
		Bill:      bill.New(bill.DefaultEstablishment, bill.DefaultServicePercent),
		OptIns:    bill.OptIns{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.SaveSession(sess); err != nil {
		return nil, fmt.Errorf("saving session to database: %w", err)
	}
	return sess, nil
}

// GetSession retrieves a session by ID
func (s *Service) GetSession(id string) (*Session, error) {
	sess, err := s.db.GetSession(id)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	if sess.Bill == nil {
		sess.Bill = bill.New(bill.DefaultEstablishment, bill.DefaultServicePercent)
	}
	if sess.OptIns == nil {
		sess.OptIns = bill.OptIns{}
	}
	return sess, nil
}

// GetReceiptImage returns the stored photo for a session
func (s *Service) GetReceiptImage(id string) ([]byte, string, error) {
	sess, err := s.GetSession(id)
	if err != nil {
		return nil, "", err
	}
	if sess.ImageFilename == "" {
		return nil, "", fmt.Errorf("session %s has no receipt image: %w", id, ErrNotFound)
	}

	data, err := s.storage.Get(sess.ImageFilename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt image: %w", err)
	}
	return data, sess.ContentType, nil
}

// Reset throws the session and its photo away
func (s *Service) Reset(id string) error {
	unlock := s.locks.lock(id)
	defer unlock()

	sess, err := s.GetSession(id)
	if err != nil {
		return err
	}

	if sess.ImageFilename != "" {
		if err := s.storage.Delete(sess.ImageFilename); err != nil {
			// Log error but continue with database deletion
			slog.Warn("Failed to delete receipt image", "filename", sess.ImageFilename, "error", err)
		}
	}

	if err := s.db.DeleteSession(id); err != nil {
		return fmt.Errorf("deleting session from database: %w", err)
	}
	s.locks.forget(id)
	return nil
}

// AddItem appends a blank or cover-charge item
func (s *Service) AddItem(id string, feeLike bool) (*Session, bill.Item, error) {
	var item bill.Item
	sess, err := s.update(id, func(sess *Session) error {
		item = sess.Bill.AddItem(feeLike)
		return nil
	})
	return sess, item, err
}

// UpdateItem edits one field of an item
func (s *Service) UpdateItem(id, itemID string, field bill.ItemField, value string) (*Session, error) {
	return s.update(id, func(sess *Session) error {
		sess.Bill.UpdateItem(itemID, field, value)
		return nil
	})
}

// RemoveItem deletes an item
func (s *Service) RemoveItem(id, itemID string) (*Session, error) {
	return s.update(id, func(sess *Session) error {
		sess.Bill.RemoveItem(itemID)
		return nil
	})
}

// QuoteFee previews a fee entry against the current items total
func (s *Service) QuoteFee(id string, mode bill.FeeMode, raw string) (bill.FeeQuote, error) {
	sess, err := s.GetSession(id)
	if err != nil {
		return bill.FeeQuote{}, err
	}
	return bill.QuoteFee(mode, raw, sess.Bill.ItemsTotal()), nil
}

// ConfirmVerification freezes the service fee as a percentage of the current
// items total and seats the current user. The percentage is not recomputed if
// items change later.
func (s *Service) ConfirmVerification(id, establishment string, mode bill.FeeMode, raw string) (*Session, error) {
	return s.update(id, func(sess *Session) error {
		if sess.Step != StepVerify {
			return fmt.Errorf("confirming verification in step %s: %w", sess.Step, ErrInvalidStep)
		}

		if name := strings.TrimSpace(establishment); name != "" {
			sess.Bill.Establishment = name
		}
		itemsTotal := sess.Bill.ItemsTotal()
		sess.Bill.ServicePercent = bill.ResolveServicePercent(mode, raw, itemsTotal)
		sess.Bill.SeatCurrentUser()
		sess.Step = StepPeople

		slog.Info("Bill confirmed",
			"session_id", sess.ID,
			"fee_mode", mode,
			"items_total", itemsTotal,
			"service_percent", sess.Bill.ServicePercent,
		)
		return nil
	})
}

// AddPerson seats another diner
func (s *Service) AddPerson(id, name string) (*Session, bill.Person, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, bill.Person{}, ErrEmptyName
	}

	var person bill.Person
	sess, err := s.update(id, func(sess *Session) error {
		person = sess.Bill.AddPerson(name)
		return nil
	})
	return sess, person, err
}

// RemovePerson removes a diner other than the current user
func (s *Service) RemovePerson(id, personID string) (*Session, error) {
	if personID == bill.CurrentUserID {
		return nil, ErrCurrentUser
	}
	return s.update(id, func(sess *Session) error {
		sess.Bill.RemovePerson(personID)
		return nil
	})
}

// ToggleAssignment flips whether a person had part of an item
func (s *Service) ToggleAssignment(id, itemID, personID string) (*Session, error) {
	return s.update(id, func(sess *Session) error {
		sess.Bill.ToggleAssignment(itemID, personID)
		return nil
	})
}

// Advance moves people to assign, and assign to result once every item has
// someone on it
func (s *Service) Advance(id string) (*Session, error) {
	return s.update(id, func(sess *Session) error {
		switch sess.Step {
		case StepPeople:
			sess.Step = StepAssign
		case StepAssign:
			if !sess.Bill.IsFullyAssigned() {
				return ErrNotFullyAssigned
			}
			sess.OptIns.Seed(sess.Bill.People)
			sess.Step = StepResult
		default:
			return fmt.Errorf("advancing from step %s: %w", sess.Step, ErrInvalidStep)
		}
		return nil
	})
}

// ToggleServiceFee flips a person's service fee opt-in without touching the
// person's default
func (s *Service) ToggleServiceFee(id, personID string) (*Session, error) {
	return s.update(id, func(sess *Session) error {
		if p, ok := sess.Bill.Person(personID); ok {
			sess.OptIns.Toggle(p)
		}
		return nil
	})
}

// Splits calculates every person's share
func (s *Service) Splits(id string) (bill.Breakdown, error) {
	sess, err := s.GetSession(id)
	if err != nil {
		return bill.Breakdown{}, err
	}
	return bill.Calculate(sess.Bill, sess.OptIns), nil
}

// Summary renders the shareable text block
func (s *Service) Summary(id string) (string, error) {
	sess, err := s.GetSession(id)
	if err != nil {
		return "", err
	}
	return bill.FormatSummary(sess.Bill, sess.OptIns), nil
}

// update loads a session, applies fn and saves it back. Concurrent updates of
// the same session run one at a time so none of them is lost.
func (s *Service) update(id string, fn func(*Session) error) (*Session, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	sess, err := s.GetSession(id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}

	sess.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveSession(sess); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	return sess, nil
}
