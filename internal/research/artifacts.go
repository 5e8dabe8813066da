package research

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/store"
)

func decodeArtifact(data map[string]any, key string, dst any) (bool, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return false, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return false, eris.Wrapf(err, "research: encode artifact %s", key)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, eris.Wrapf(err, "research: decode artifact %s", key)
	}
	return true, nil
}

// attachArtifacts copies the well-known artifact keys of a worker's data
// into c, stamped with the job and property.
func attachArtifacts(c *store.WorkerCommit, job *model.AgenticJob, data map[string]any, now time.Time) error {
	var sales []model.CompSale
	if ok, err := decodeArtifact(data, model.ArtifactCompSales, &sales); err != nil {
		return err
	} else if ok {
		for i := range sales {
			sales[i].ID = 0
			sales[i].JobID = job.ID
			sales[i].PropertyID = job.ResearchPropertyID
		}
		c.CompSales = sales
	}

	var rentals []model.CompRental
	if ok, err := decodeArtifact(data, model.ArtifactCompRentals, &rentals); err != nil {
		return err
	} else if ok {
		for i := range rentals {
			rentals[i].ID = 0
			rentals[i].JobID = job.ID
			rentals[i].PropertyID = job.ResearchPropertyID
		}
		c.CompRentals = rentals
	}

	var uw model.Underwriting
	if ok, err := decodeArtifact(data, model.ArtifactUnderwriting, &uw); err != nil {
		return err
	} else if ok {
		uw.JobID, uw.PropertyID, uw.CreatedAt = job.ID, job.ResearchPropertyID, now
		c.Underwriting = &uw
	}

	var rs model.RiskScore
	if ok, err := decodeArtifact(data, model.ArtifactRiskScore, &rs); err != nil {
		return err
	} else if ok {
		rs.JobID, rs.PropertyID, rs.CreatedAt = job.ID, job.ResearchPropertyID, now
		c.RiskScore = &rs
	}

	var d model.Dossier
	if ok, err := decodeArtifact(data, model.ArtifactDossier, &d); err != nil {
		return err
	} else if ok {
		d.JobID, d.PropertyID, d.CreatedAt = job.ID, job.ResearchPropertyID, now
		c.Dossier = &d
	}
	return nil
}
