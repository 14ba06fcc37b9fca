package run

import (
	"strconv"

	"github.com/Iron-Ham/sightline/internal/event"
	"github.com/Iron-Ham/sightline/internal/registry"
)

func (r *Reducer) candidateStart(ev event.CandidateStart) {
	r.noteTotalCandidates(ev.TotalCandidates)
	if ev.VarianceStrategy != "" {
		r.run.VarianceStrategy = ev.VarianceStrategy
	}
	r.advance(StatusPlanning)
}

// candidateGenerated records a generated candidate. Score and metrics already
// recorded by an earlier candidate_scored are kept.
func (r *Reducer) candidateGenerated(ev event.CandidateGenerated) {
	r.run.Candidates.Upsert(ev.CandidateID, func(c Candidate, found bool) Candidate {
		if !found {
			c = Candidate{ID: registry.Normalize(ev.CandidateID)}
		}
		if ev.ArtifactCount > 0 {
			c.ArtifactCount = ev.ArtifactCount
		}
		if ev.VarianceConfig != nil {
			c.VarianceConfig = ev.VarianceConfig.Clone()
		}
		return c
	})
	r.noteTotalCandidates(ev.TotalCandidates)
	r.advance(StatusPlanning)
}

// candidateScored merges a score into its candidate, creating a minimal entry
// when scoring raced ahead of generation.
func (r *Reducer) candidateScored(ev event.CandidateScored) {
	r.run.Candidates.Upsert(ev.CandidateID, func(c Candidate, found bool) Candidate {
		if !found {
			r.logger.Debug("score for unseen candidate, creating it", "candidate_id", ev.CandidateID)
			c = Candidate{ID: registry.Normalize(ev.CandidateID)}
		}
		score := ev.Score
		c.Score = &score
		if ev.Metrics != nil {
			c.Metrics = ev.Metrics.Clone()
		}
		return c
	})
	r.noteTotalCandidates(ev.TotalCandidates)
	r.advance(StatusPlanning)
}

func (r *Reducer) noteTotalCandidates(n int) {
	if n > r.run.TotalCandidates {
		r.run.TotalCandidates = n
	}
}

// winner marks the selected candidate. A winner that was never generated is
// synthesized from the event so a declared selection is never lost.
func (r *Reducer) winner(ev event.Winner) {
	key := registry.Normalize(ev.SelectedID)
	r.run.Candidates.Upsert(key, func(c Candidate, found bool) Candidate {
		if !found {
			r.logger.Warn("winner declared for unseen candidate, synthesizing it", "candidate_id", key)
			c = Candidate{ID: key, Synthesized: true}
		}
		c.Selected = true
		if ev.Reason != "" {
			c.SelectionReason = ev.Reason
		}
		if ev.Score != nil {
			c.Score = cloneFloat(ev.Score)
		}
		if c.Metrics == nil {
			c.Metrics = ev.Metrics.Clone()
		}
		if c.VarianceConfig == nil {
			c.VarianceConfig = ev.VarianceConfig.Clone()
		}
		if c.ArtifactCount == 0 {
			c.ArtifactCount = ev.PlannedTotal()
		}
		return c
	})

	// Exactly one candidate is selected per planning phase.
	r.run.Candidates.Update(func(cid string, c Candidate) Candidate {
		if cid != key && c.Selected {
			c.Selected = false
			c.SelectionReason = ""
		}
		return c
	})

	r.run.SelectedID = key
	if n := ev.PlannedTotal(); n > 0 {
		r.run.PlannedTotal = n
	}
	r.noteTotalCandidates(ev.TotalCandidates)
	if ev.VarianceStrategy != "" {
		r.run.VarianceStrategy = ev.VarianceStrategy
	}
	r.advance(StatusRunning)
}

func (r *Reducer) refineStart(ev event.RefineStart) {
	r.upsertRound(ev.Round, func(rr *RefinementRound) {
		if len(ev.ImprovementsIdentified) > 0 {
			rr.ImprovementsIdentified = cloneStrings(ev.ImprovementsIdentified)
		}
		if rr.OldScore == nil {
			rr.OldScore = cloneFloat(ev.CurrentScore)
		}
	})
	if ev.TotalRounds > r.run.RefinementRounds {
		r.run.RefinementRounds = ev.TotalRounds
	}
	r.advance(StatusPlanning)
}

func (r *Reducer) refineAttempt(ev event.RefineAttempt) {
	r.upsertRound(ev.Round, func(rr *RefinementRound) {
		if len(ev.ImprovementsApplied) > 0 {
			rr.ImprovementsApplied = cloneStrings(ev.ImprovementsApplied)
		}
		if ev.NewScore != nil {
			rr.NewScore = cloneFloat(ev.NewScore)
		}
	})
	r.advance(StatusPlanning)
}

func (r *Reducer) refineComplete(ev event.RefineComplete) {
	r.upsertRound(ev.Round, func(rr *RefinementRound) {
		rr.Improved = ev.Improved
		rr.Complete = true
		if ev.OldScore != nil {
			rr.OldScore = cloneFloat(ev.OldScore)
		}
		if ev.NewScore != nil {
			rr.NewScore = cloneFloat(ev.NewScore)
		}
		if ev.Reason != "" {
			rr.Reason = ev.Reason
		}
		if len(ev.ImprovementsApplied) > 0 {
			rr.ImprovementsApplied = cloneStrings(ev.ImprovementsApplied)
		}
		switch {
		case ev.Improvement != nil:
			rr.Improvement = cloneFloat(ev.Improvement)
		case rr.OldScore != nil && rr.NewScore != nil:
			d := *rr.NewScore - *rr.OldScore
			rr.Improvement = &d
		}
	})
	r.advance(StatusPlanning)
}

func (r *Reducer) refineFinal(ev event.RefineFinal) {
	if ev.TotalRounds > 0 {
		r.run.RefinementRounds = ev.TotalRounds
	}
	if ev.FinalScore != nil {
		r.run.FinalScore = cloneFloat(ev.FinalScore)
	}
	r.run.TotalImprovements = ev.TotalImprovements
	r.advance(StatusPlanning)
}

// upsertRound updates a refinement round in place by its number, creating it
// when the round was never opened.
func (r *Reducer) upsertRound(round int, fn func(*RefinementRound)) {
	r.run.Refinements.Upsert(strconv.Itoa(round), func(rr RefinementRound, found bool) RefinementRound {
		if !found {
			rr = RefinementRound{Round: round}
		}
		fn(&rr)
		return rr
	})
}
