package devbackend

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kolibri/internal/models"
	"kolibri/internal/utils"
)

var (
	errNotFound  = utils.NewAPIError(http.StatusNotFound, "not found")
	errTokenGone = utils.NewAPIError(http.StatusGone, "signing link is invalid or has expired")
)

// SigningLink is what the backend would mail to a signer.
type SigningLink struct {
	Token      string
	DeedID     int64
	SignerType string
	SignerName string
	Email      string
	ExpiresAt  time.Time
}

type signingToken struct {
	SigningLink
	index int
	used  bool
}

// store holds all backend state. Every method takes the lock.
type store struct {
	mu sync.Mutex

	now      func() time.Time
	linkTTL  time.Duration
	onLink   func(SigningLink)
	nextDeed int64
	nextCoop int64
	nextLog  int64

	deeds  map[int64]*models.MortgageDeed
	coops  map[string]*models.HousingCooperative
	audit  []models.AuditLogEntry
	tokens map[string]*signingToken
}

func newStore(now func() time.Time, linkTTL time.Duration, onLink func(SigningLink)) *store {
	return &store{
		now:     now,
		linkTTL: linkTTL,
		onLink:  onLink,
		deeds:   make(map[int64]*models.MortgageDeed),
		coops:   make(map[string]*models.HousingCooperative),
		tokens:  make(map[string]*signingToken),
	}
}

func (s *store) logLocked(deedID int64, action models.AuditAction, userID, description string) {
	s.nextLog++
	s.audit = append(s.audit, models.AuditLogEntry{
		ID:          s.nextLog,
		DeedID:      deedID,
		ActionType:  action,
		UserID:      userID,
		Description: description,
		Timestamp:   s.now().UTC(),
	})
}

// cooperatives

func (s *store) listCooperatives(q models.CooperativeQuery) ([]models.HousingCooperative, models.Pagination) {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(q.Search))
	var all []models.HousingCooperative
	for _, c := range s.coops {
		if needle != "" &&
			!strings.Contains(strings.ToLower(c.Name), needle) &&
			!strings.Contains(c.OrganisationNumber, needle) {
			continue
		}
		all = append(all, *c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return paginate(all, q.Page, q.PageSize)
}

func (s *store) getCooperative(org string) (*models.HousingCooperative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coops[org]
	if !ok {
		return nil, errNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *store) createCooperative(c models.HousingCooperative, userID string) (*models.HousingCooperative, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.coops[c.OrganisationNumber]; exists {
		return nil, utils.NewAPIError(http.StatusConflict, "a housing cooperative with this organisation number already exists")
	}
	s.nextCoop++
	c.ID = s.nextCoop
	c.CreatedBy = userID
	s.coops[c.OrganisationNumber] = &c
	cp := c
	return &cp, nil
}

func (s *store) updateCooperative(org string, c models.HousingCooperative) (*models.HousingCooperative, error) {
	if err := c.ValidateUpdate(org); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.coops[org]
	if !ok {
		return nil, errNotFound
	}
	c.ID = cur.ID
	c.OrganisationNumber = org
	c.CreatedBy = cur.CreatedBy
	s.coops[org] = &c
	cp := c
	return &cp, nil
}

func (s *store) deleteCooperative(org string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coops[org]
	if !ok {
		return errNotFound
	}
	for _, d := range s.deeds {
		if d.HousingCooperativeID == c.ID && d.Status != models.StatusCompleted {
			return utils.NewAPIError(http.StatusConflict, "housing cooperative has active mortgage deeds")
		}
	}
	delete(s.coops, org)
	return nil
}

func (s *store) coopByIDLocked(id int64) *models.HousingCooperative {
	for _, c := range s.coops {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// deeds

func (s *store) listDeeds(f models.DeedFilters) ([]models.MortgageDeed, models.Pagination) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []models.MortgageDeed
	for _, d := range s.deeds {
		if s.matchesLocked(d, f) {
			all = append(all, s.viewLocked(d))
		}
	}

	desc := f.SortOrder == "desc"
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		var less bool
		switch f.SortBy {
		case "status":
			less = a.Status < b.Status
		case "apartment_number":
			less = a.ApartmentNumber < b.ApartmentNumber
		default:
			less = a.CreatedAt.Before(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.ID < b.ID)
		}
		if desc {
			return !less
		}
		return less
	})
	return paginate(all, f.Page, f.PageSize)
}

func (s *store) matchesLocked(d *models.MortgageDeed, f models.DeedFilters) bool {
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if f.HousingCooperativeID != 0 && d.HousingCooperativeID != f.HousingCooperativeID {
		return false
	}
	if f.ApartmentNumber != "" && d.ApartmentNumber != f.ApartmentNumber {
		return false
	}
	if f.CreatedAfter != "" {
		if t, err := time.Parse(time.DateOnly, f.CreatedAfter); err == nil && d.CreatedAt.Before(t) {
			return false
		}
	}
	if f.CreatedBefore != "" {
		if t, err := time.Parse(time.DateOnly, f.CreatedBefore); err == nil && !d.CreatedAt.Before(t.AddDate(0, 0, 1)) {
			return false
		}
	}
	if f.BorrowerPersonNumber != "" {
		found := false
		for _, b := range d.Borrowers {
			if b.PersonNumber == f.BorrowerPersonNumber {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.HousingCooperativeName != "" {
		c := s.coopByIDLocked(d.HousingCooperativeID)
		if c == nil || !strings.Contains(strings.ToLower(c.Name), strings.ToLower(f.HousingCooperativeName)) {
			return false
		}
	}
	if len(f.CreditNumbers) > 0 {
		have := make(map[string]bool)
		for _, c := range d.Credits() {
			have[c] = true
		}
		found := false
		for _, c := range f.CreditNumbers {
			if have[c] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// viewLocked returns a copy of d with its cooperative attached.
func (s *store) viewLocked(d *models.MortgageDeed) models.MortgageDeed {
	out := *d
	out.Borrowers = append([]models.Borrower(nil), d.Borrowers...)
	out.CooperativeSigners = append([]models.CooperativeSigner(nil), d.CooperativeSigners...)
	if c := s.coopByIDLocked(d.HousingCooperativeID); c != nil {
		cp := *c
		out.HousingCooperative = &cp
	}
	return out
}

func (s *store) getDeed(id int64) (*models.MortgageDeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deeds[id]
	if !ok {
		return nil, errNotFound
	}
	v := s.viewLocked(d)
	return &v, nil
}

func (s *store) createDeed(d models.MortgageDeed, userID string) (*models.MortgageDeed, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coopByIDLocked(d.HousingCooperativeID) == nil {
		return nil, utils.NewAPIError(http.StatusBadRequest, "unknown housing cooperative")
	}
	s.nextDeed++
	d.ID = s.nextDeed
	d.Status = models.StatusCreated
	d.CreatedAt = s.now().UTC()
	d.UpdatedAt = nil
	d.HousingCooperative = nil
	for i := range d.Borrowers {
		d.Borrowers[i].ID = int64(i + 1)
		d.Borrowers[i].SignatureTimestamp = nil
	}
	s.deeds[d.ID] = &d
	s.logLocked(d.ID, models.AuditDeedCreated, userID, "Mortgage deed created")
	for _, b := range d.Borrowers {
		s.logLocked(d.ID, models.AuditBorrowerAdded, userID, "Borrower added: "+b.Name)
	}
	for _, c := range d.CooperativeSigners {
		s.logLocked(d.ID, models.AuditCooperativeSignerAdded, userID, "Housing cooperative signer added: "+c.AdministratorName)
	}
	v := s.viewLocked(&d)
	return &v, nil
}

func (s *store) updateDeed(id int64, d models.MortgageDeed, userID string) (*models.MortgageDeed, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.deeds[id]
	if !ok {
		return nil, errNotFound
	}
	if !cur.Editable() {
		return nil, utils.NewAPIError(http.StatusConflict, "deed can no longer be edited")
	}
	if s.coopByIDLocked(d.HousingCooperativeID) == nil {
		return nil, utils.NewAPIError(http.StatusBadRequest, "unknown housing cooperative")
	}
	now := s.now().UTC()
	d.ID = id
	d.Status = cur.Status
	d.CreatedAt = cur.CreatedAt
	d.UpdatedAt = &now
	d.HousingCooperative = nil
	s.deeds[id] = &d
	s.logLocked(id, models.AuditDeedUpdated, userID, "Mortgage deed updated")
	v := s.viewLocked(&d)
	return &v, nil
}

func (s *store) deleteDeed(id int64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deeds[id]; !ok {
		return errNotFound
	}
	delete(s.deeds, id)
	for tok, t := range s.tokens {
		if t.DeedID == id {
			delete(s.tokens, tok)
		}
	}
	s.logLocked(id, models.AuditDeedDeleted, userID, "Mortgage deed deleted")
	return nil
}

func (s *store) auditLogs(id int64) ([]models.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deeds[id]; !ok {
		return nil, errNotFound
	}
	out := []models.AuditLogEntry{}
	for _, e := range s.audit {
		if e.DeedID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

// signing

func (s *store) sendForSigning(id int64, userID string) error {
	s.mu.Lock()
	d, ok := s.deeds[id]
	if !ok {
		s.mu.Unlock()
		return errNotFound
	}
	if d.Status != models.StatusCreated {
		s.mu.Unlock()
		return utils.NewAPIError(http.StatusConflict, fmt.Sprintf("deed is %s, not CREATED", d.Status))
	}
	d.Status = models.StatusPendingBorrowerSignature
	links := make([]SigningLink, 0, len(d.Borrowers))
	for i, b := range d.Borrowers {
		links = append(links, s.issueLocked(d.ID, models.SignerBorrower, i, b.Name, b.Email))
	}
	s.logLocked(id, models.AuditDeedUpdated, userID, "Sent for borrower signatures")
	s.mu.Unlock()

	s.notify(links)
	return nil
}

func (s *store) issueLocked(deedID int64, signerType string, index int, name, email string) SigningLink {
	t := &signingToken{
		SigningLink: SigningLink{
			Token:      uuid.NewString(),
			DeedID:     deedID,
			SignerType: signerType,
			SignerName: name,
			Email:      email,
			ExpiresAt:  s.now().Add(s.linkTTL).UTC(),
		},
		index: index,
	}
	s.tokens[t.Token] = t
	return t.SigningLink
}

func (s *store) notify(links []SigningLink) {
	if s.onLink == nil {
		return
	}
	for _, l := range links {
		s.onLink(l)
	}
}

func (s *store) validTokenLocked(token string) (*signingToken, *models.MortgageDeed, error) {
	t, ok := s.tokens[token]
	if !ok || t.used || !s.now().Before(t.ExpiresAt) {
		return nil, nil, errTokenGone
	}
	d, ok := s.deeds[t.DeedID]
	if !ok {
		return nil, nil, errTokenGone
	}
	return t, d, nil
}

func (s *store) verify(token string) (*models.SigningInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, d, err := s.validTokenLocked(token)
	if err != nil {
		return nil, err
	}
	exp := t.ExpiresAt
	return &models.SigningInfo{
		Deed:       s.viewLocked(d),
		SignerType: t.SignerType,
		SignerName: t.SignerName,
		ExpiresAt:  &exp,
	}, nil
}

// sign records one signature and advances the deed when a signing round is
// complete: borrowers first, then the cooperative's signers.
func (s *store) sign(req models.SignRequest) error {
	if !req.SignatureConfirmed {
		return utils.NewAPIError(http.StatusBadRequest, "signature must be confirmed")
	}
	s.mu.Lock()
	t, d, err := s.validTokenLocked(req.Token)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	now := s.now().UTC()
	t.used = true

	var links []SigningLink
	switch t.SignerType {
	case models.SignerBorrower:
		d.Borrowers[t.index].SignatureTimestamp = &now
		s.logLocked(d.ID, models.AuditBorrowerSigned, "", "Borrower signed: "+t.SignerName)
		if allBorrowersSigned(d) {
			if len(d.CooperativeSigners) == 0 {
				s.completeLocked(d)
			} else {
				d.Status = models.StatusPendingCooperativeSignature
				for i, c := range d.CooperativeSigners {
					links = append(links, s.issueLocked(d.ID, models.SignerCooperative, i, c.AdministratorName, c.AdministratorEmail))
				}
			}
		}
	case models.SignerCooperative:
		d.CooperativeSigners[t.index].SignatureTimestamp = &now
		s.logLocked(d.ID, models.AuditCooperativeSignerSigned, "", "Housing cooperative signer signed: "+t.SignerName)
		if allCooperativeSigned(d) {
			s.completeLocked(d)
		}
	default:
		s.mu.Unlock()
		return errors.New("unknown signer type")
	}
	d.UpdatedAt = &now
	s.mu.Unlock()

	s.notify(links)
	return nil
}

func (s *store) completeLocked(d *models.MortgageDeed) {
	d.Status = models.StatusCompleted
	s.logLocked(d.ID, models.AuditDeedCompleted, "", "All signatures collected")
}

func allBorrowersSigned(d *models.MortgageDeed) bool {
	for _, b := range d.Borrowers {
		if b.SignatureTimestamp == nil {
			return false
		}
	}
	return true
}

func allCooperativeSigned(d *models.MortgageDeed) bool {
	for _, c := range d.CooperativeSigners {
		if c.SignatureTimestamp == nil {
			return false
		}
	}
	return true
}

// links returns the unused signing links for a deed.
func (s *store) links(deedID int64) []SigningLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SigningLink
	for _, t := range s.tokens {
		if t.DeedID == deedID && !t.used {
			out = append(out, t.SigningLink)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SignerType != out[j].SignerType {
			return out[i].SignerType < out[j].SignerType
		}
		return out[i].SignerName < out[j].SignerName
	})
	return out
}

// statistics

func (s *store) summary() models.StatsSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := models.StatsSummary{
		TotalDeeds:         len(s.deeds),
		TotalCooperatives:  len(s.coops),
		StatusDistribution: make(map[models.DeedStatus]int),
	}
	borrowers := 0
	for _, d := range s.deeds {
		out.StatusDistribution[d.Status]++
		borrowers += len(d.Borrowers)
	}
	if len(s.deeds) > 0 {
		out.AverageBorrowersPerDeed = float64(borrowers) / float64(len(s.deeds))
	}
	return out
}

func (s *store) dashboard(scope string) models.DashboardStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := models.DashboardStats{TotalDeeds: len(s.deeds), RecentDeeds: []models.MortgageDeed{}}
	if scope != "bank" {
		out.TotalCooperatives = len(s.coops)
	}
	all := make([]*models.MortgageDeed, 0, len(s.deeds))
	for _, d := range s.deeds {
		switch d.Status {
		case models.StatusCreated:
			out.CreatedDeeds++
		case models.StatusPendingBorrowerSignature:
			out.PendingBorrower++
		case models.StatusPendingCooperativeSignature:
			out.PendingCooperative++
		case models.StatusCompleted:
			out.CompletedDeeds++
		}
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) || (all[i].CreatedAt.Equal(all[j].CreatedAt) && all[i].ID > all[j].ID) })
	for i := 0; i < len(all) && i < 5; i++ {
		out.RecentDeeds = append(out.RecentDeeds, s.viewLocked(all[i]))
	}
	return out
}

func paginate[T any](all []T, page, size int) ([]T, models.Pagination) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 10
	}
	p := models.Pagination{
		TotalCount:  len(all),
		TotalPages:  (len(all) + size - 1) / size,
		CurrentPage: page,
		PageSize:    size,
	}
	start := (page - 1) * size
	if start >= len(all) {
		return []T{}, p
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], p
}
