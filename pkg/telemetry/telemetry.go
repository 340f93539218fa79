// Package telemetry records coordinator ticks to a SQLite database so runs
// can be inspected and plotted afterwards.
package telemetry

import (
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tigerbot-team/cardinal/pkg/drive"
	"github.com/tigerbot-team/cardinal/pkg/geometry"
)

var ErrNoRun = errors.New("no run started")

const defaultBatchSize = 250

type Run struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Name      string    `gorm:"size:127"`
	StartedAt time.Time `gorm:"index:idx_run_started"`
}

type TickRecord struct {
	ID    uint   `gorm:"primaryKey"`
	RunID string `gorm:"size:36;index:idx_tick_run_seq,priority:1"`
	Seq   int    `gorm:"index:idx_tick_run_seq,priority:2"`

	Time    time.Time
	Status  string `gorm:"size:16"`
	Elapsed float64

	X, Y, Heading                   float64
	TargetX, TargetY, TargetHeading float64
	VX, VY, Omega                   float64
	Saturated                       bool

	StaleReadings int
	Fault         string `gorm:"size:255"`
}

func (t TickRecord) Pose() geometry.Pose2D {
	return geometry.Pose2D{X: t.X, Y: t.Y, Heading: t.Heading}
}

func (t TickRecord) Target() geometry.Pose2D {
	return geometry.Pose2D{X: t.TargetX, Y: t.TargetY, Heading: t.TargetHeading}
}

// Recorder is a drive.TickSink that buffers ticks and writes them in batches.
type Recorder struct {
	db        *gorm.DB
	log       *logrus.Entry
	batchSize int

	lock    sync.Mutex
	runID   string
	seq     int
	pending []TickRecord
}

var _ drive.TickSink = (*Recorder)(nil)

// Open opens (creating if needed) the database at path. An empty path uses a
// private in-memory database.
func Open(path string) (*Recorder, error) {
	dsn := path
	if dsn == "" {
		dsn = "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        defaultBatchSize,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening telemetry database %q", path)
	}
	if err := db.AutoMigrate(&Run{}, &TickRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrating telemetry schema")
	}
	log := logrus.WithField("component", "telemetry")
	log.WithField("path", path).Info("Using local SQLite DB")
	return &Recorder{db: db, log: log, batchSize: defaultBatchSize}, nil
}

// StartRun flushes any previous run and starts recording a new one.
func (r *Recorder) StartRun(name string) (string, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if err := r.flushLocked(); err != nil {
		return "", err
	}
	run := Run{ID: uuid.NewString(), Name: name, StartedAt: time.Now()}
	if err := r.db.Create(&run).Error; err != nil {
		return "", errors.Wrap(err, "creating run")
	}
	r.runID = run.ID
	r.seq = 0
	r.log.WithFields(logrus.Fields{"run": run.ID, "name": name}).Info("Started telemetry run")
	return run.ID, nil
}

func (r *Recorder) Record(report drive.TickReport) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.runID == "" {
		return ErrNoRun
	}
	rec := TickRecord{
		RunID:         r.runID,
		Seq:           r.seq,
		Time:          report.Time,
		Status:        report.Status.String(),
		Elapsed:       report.Elapsed,
		X:             report.Pose.X,
		Y:             report.Pose.Y,
		Heading:       report.Pose.Heading,
		TargetX:       report.Target.X,
		TargetY:       report.Target.Y,
		TargetHeading: report.Target.Heading,
		VX:            report.Command.VX,
		VY:            report.Command.VY,
		Omega:         report.Command.Omega,
		Saturated:     report.Saturated,
		StaleReadings: report.StaleReadings,
	}
	if report.Fault != nil {
		rec.Fault = report.Fault.Error()
	}
	r.seq++
	r.pending = append(r.pending, rec)
	if len(r.pending) >= r.batchSize {
		return r.flushLocked()
	}
	return nil
}

func (r *Recorder) Flush() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.flushLocked()
}

func (r *Recorder) flushLocked() error {
	if len(r.pending) == 0 {
		return nil
	}
	if err := r.db.CreateInBatches(r.pending, r.batchSize).Error; err != nil {
		return errors.Wrapf(err, "writing %d ticks", len(r.pending))
	}
	r.pending = r.pending[:0]
	return nil
}

// Ticks returns every flushed tick of a run in order.
func (r *Recorder) Ticks(runID string) ([]TickRecord, error) {
	var ticks []TickRecord
	err := r.db.Where("run_id = ?", runID).Order("seq").Find(&ticks).Error
	return ticks, errors.Wrap(err, "reading ticks")
}

func (r *Recorder) Runs() ([]Run, error) {
	var runs []Run
	err := r.db.Order("started_at").Find(&runs).Error
	return runs, errors.Wrap(err, "reading runs")
}

func (r *Recorder) Close() error {
	flushErr := r.Flush()
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		return err
	}
	return flushErr
}
