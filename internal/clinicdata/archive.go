package clinicdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/wolfman30/polyclinic-scheduler/internal/bookings"
	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

// S3Client interface for S3 operations (allows mocking in tests)
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// VisitLister is the slice of bookings.Store the archiver reads.
type VisitLister interface {
	ListForDoctorFrom(ctx context.Context, doctorID uuid.UUID, from timegrid.Date) ([]bookings.Visit, error)
}

// Archiver writes a doctor's visit history to S3 as JSONL before a purge.
type Archiver struct {
	visits VisitLister
	s3     S3Client
	bucket string
	logger *logging.Logger
	now    func() time.Time
}

type ArchiverConfig struct {
	Visits VisitLister
	S3     S3Client
	Bucket string
	Logger *logging.Logger
}

func NewArchiver(cfg ArchiverConfig) *Archiver {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Archiver{
		visits: cfg.Visits,
		s3:     cfg.S3,
		bucket: cfg.Bucket,
		logger: cfg.Logger,
		now:    time.Now,
	}
}

// ArchivedVisit is one JSONL line. Guest contact details are redacted.
type ArchivedVisit struct {
	VisitID       string    `json:"visit_id"`
	DoctorID      string    `json:"doctor_id"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	Gender        string    `json:"gender"`
	VisitType     string    `json:"visit_type"`
	CreatedBy     string    `json:"created_by,omitempty"`
	GuestEmail    string    `json:"guest_email_redacted,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	ArchivedAt    time.Time `json:"archived_at"`
	ArchiveReason string    `json:"archive_reason"`
}

type ArchiveResult struct {
	VisitsArchived int
	S3Key          string
	BytesWritten   int64
}

var allTime = timegrid.Date{Year: 1970, Month: time.January, Day: 1}

// ArchiveDoctor uploads every visit of doctorID. No visits means no upload.
func (a *Archiver) ArchiveDoctor(ctx context.Context, doctorID uuid.UUID) (*ArchiveResult, error) {
	if a == nil || a.visits == nil || a.s3 == nil || a.bucket == "" {
		return nil, fmt.Errorf("clinicdata: archiver not configured")
	}
	visits, err := a.visits.ListForDoctorFrom(ctx, doctorID, allTime)
	if err != nil {
		return nil, fmt.Errorf("clinicdata: fetch visits: %w", err)
	}
	if len(visits) == 0 {
		a.logger.Info("clinicdata: no visits to archive", "doctor_id", doctorID)
		return &ArchiveResult{}, nil
	}

	now := a.now().UTC()
	var buf bytes.Buffer
	for _, v := range visits {
		line, err := json.Marshal(archivedVisit(v, now))
		if err != nil {
			a.logger.Warn("clinicdata: failed to marshal visit", "error", err, "visit_id", v.ID)
			continue
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	key := fmt.Sprintf("visits/archive/%d/%02d/%02d/%s/bulk_%s.jsonl",
		now.Year(), now.Month(), now.Day(), doctorID, now.Format("20060102T150405Z"))
	_, err = a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"doctor_id":      doctorID.String(),
			"archive_reason": "remove_doctor",
			"visit_count":    fmt.Sprintf("%d", len(visits)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clinicdata: s3 upload failed: %w", err)
	}

	a.logger.Info("clinicdata: archived doctor visits", "doctor_id", doctorID, "visits", len(visits), "s3_key", key)
	return &ArchiveResult{VisitsArchived: len(visits), S3Key: key, BytesWritten: int64(buf.Len())}, nil
}

func archivedVisit(v bookings.Visit, at time.Time) ArchivedVisit {
	out := ArchivedVisit{
		VisitID:       v.ID.String(),
		DoctorID:      v.DoctorID.String(),
		Date:          v.Date.String(),
		Time:          v.Time.String(),
		Gender:        string(v.Gender),
		VisitType:     string(v.VisitType),
		CreatedAt:     v.CreatedAt,
		ArchivedAt:    at,
		ArchiveReason: "remove_doctor",
	}
	if v.CreatedBy != nil {
		out.CreatedBy = v.CreatedBy.String()
	}
	if v.Guest != nil {
		out.GuestEmail = redactEmail(v.Guest.Email)
	}
	return out
}

// redactEmail keeps the first character and the domain.
// Input: "noor@example.com" -> Output: "n***@example.com"
func redactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	return local[:1] + "***@" + domain
}
