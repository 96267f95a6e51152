package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"edaagent/pkg/domain"
)

// DesignModel is the GORM row for a design record.
type DesignModel struct {
	ID                string         `gorm:"primaryKey"`
	AppID             string         `gorm:"not null;index:idx_designs_owner_created,priority:1"`
	UserID            string         `gorm:"not null;index:idx_designs_owner_created,priority:2"`
	Prompt            string         `gorm:"type:text;not null"`
	StructuredNetlist datatypes.JSON `gorm:"type:jsonb;not null"`
	Script            string         `gorm:"type:text;not null"`
	CreatedAt         time.Time      `gorm:"not null;index:idx_designs_owner_created,priority:3,sort:desc"`
	UpdatedAt         time.Time      `gorm:"not null"`
}

// TableName keeps the collection name used by earlier deployments.
func (DesignModel) TableName() string {
	return "ece_designs_fusion"
}

func designToModel(appID string, rec domain.DesignRecord) (DesignModel, error) {
	netlist, err := json.Marshal(rec.StructuredNetlist)
	if err != nil {
		return DesignModel{}, fmt.Errorf("encode netlist: %w", err)
	}
	return DesignModel{
		ID:                rec.ID,
		AppID:             appID,
		UserID:            rec.UserID,
		Prompt:            rec.Prompt,
		StructuredNetlist: datatypes.JSON(netlist),
		Script:            rec.Script,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
	}, nil
}

func designFromModel(m DesignModel) (domain.DesignRecord, error) {
	var netlist domain.StructuredNetlist
	if len(m.StructuredNetlist) > 0 {
		if err := json.Unmarshal(m.StructuredNetlist, &netlist); err != nil {
			return domain.DesignRecord{}, fmt.Errorf("decode netlist for %s: %w", m.ID, err)
		}
	}
	netlist.Normalize()
	return domain.DesignRecord{
		ID:                m.ID,
		UserID:            m.UserID,
		Prompt:            m.Prompt,
		StructuredNetlist: netlist,
		Script:            m.Script,
		CreatedAt:         m.CreatedAt.UTC(),
		UpdatedAt:         m.UpdatedAt.UTC(),
	}, nil
}
