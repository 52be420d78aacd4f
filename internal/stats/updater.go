package stats

import (
	"math"
	"time"

	"github.com/citytransit/etalearn/internal/domain"
	"github.com/citytransit/etalearn/internal/infra/sqlite"
)

// Updater is the Learning Updater: it applies one accepted or
// rejected observation to one (segment_id, bin_id) cell.
//
// The running-moments update is Welford's algorithm; the recency-weighted
// half-life decay is a generalization of a fixed-alpha EMA (the same
// ema(old, sample, alpha) shape, with alpha derived from elapsed time
// instead of held constant).
type Updater struct {
	db  *sqlite.DB
	cfg Config
}

// NewUpdater constructs a Learning Updater backed by db.
func NewUpdater(db *sqlite.DB, cfg Config) *Updater {
	return &Updater{db: db, cfg: cfg}
}

// Apply implements domain.LearningUpdater. tx must be a *sqlite.Tx begun
// by the same db this Updater was constructed with.
func (u *Updater) Apply(tx domain.StoreTx, segmentID int64, binID int, x float64, observedAt time.Time) (bool, domain.RejectionReason, error) {
	sqliteTx, ok := tx.(*sqlite.Tx)
	if !ok {
		return false, "", domain.NewCodedError(domain.CodeServerError, "learning updater requires a sqlite transaction")
	}

	if x <= 0 || x > 7200 {
		return false, domain.ReasonInvalidSegment, nil
	}

	cell, found, err := u.db.GetStatTx(sqliteTx, segmentID, binID)
	if err != nil {
		return false, "", err
	}
	if !found {
		return false, domain.ReasonInvalidSegment, nil
	}

	if rejectOutlier(cell, x, u.cfg.OutlierSigma) {
		return false, domain.ReasonOutlier, nil
	}

	updated := applyMoments(cell, x)
	updated = applyDecay(updated, x, observedAt, u.cfg.HalfLifeDays, u.cfg.EMAAlphaBase)
	updated.LastUpdate = observedAt

	if err := u.db.PutStatTx(sqliteTx, updated); err != nil {
		return false, "", err
	}
	return true, "", nil
}

// rejectOutlier implements the z-score outlier test. n=1 never rejects
// because sigma is undefined at that point.
func rejectOutlier(cell domain.SegmentStat, x, k float64) bool {
	if cell.N <= 5 {
		return false
	}
	sigma := math.Sqrt(cell.M2 / float64(cell.N))
	if sigma == 0 {
		return false
	}
	return math.Abs(x-cell.M1) > k*sigma
}

// applyMoments performs the numerically stable running-mean/variance
// update (Welford's algorithm).
func applyMoments(cell domain.SegmentStat, x float64) domain.SegmentStat {
	n := cell.N + 1
	d := x - cell.M1
	m1 := cell.M1 + d/float64(n)
	d2 := x - m1
	m2 := cell.M2 + d*d2

	cell.N = n
	cell.M1 = m1
	cell.M2 = m2
	return cell
}

// applyDecay computes the time-decayed EMA update. The caller applies
// this after applyMoments, so cell.N already counts the accepted
// observation: N == 1 marks the first observation, which initializes
// ema_mean to x and ema_var to 0 instead of blending.
func applyDecay(cell domain.SegmentStat, x float64, observedAt time.Time, halfLifeDays, alphaBase float64) domain.SegmentStat {
	if cell.N == 1 {
		cell.EMAMean = x
		cell.EMAVar = 0
		return cell
	}

	deltaT := observedAt.Sub(cell.LastUpdate).Seconds()
	if deltaT < 0 {
		deltaT = 0
	}
	halfLifeSec := halfLifeDays * 86400
	alphaEff := 1 - math.Pow(1-alphaBase, deltaT/halfLifeSec)

	newMean := alphaEff*x + (1-alphaEff)*cell.EMAMean
	cell.EMAVar = alphaEff*(x-newMean)*(x-newMean) + (1-alphaEff)*cell.EMAVar
	cell.EMAMean = newMean
	return cell
}

var _ domain.LearningUpdater = (*Updater)(nil)
