package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// InstalledSkillRecord holds provenance fields for a skill installed
// from an external source.
type InstalledSkillRecord struct {
	SkillID     string
	Source      string
	SourceURL   string
	Ref         string
	InstalledAt time.Time
}

// RegisterInstalledSkill records (or re-records, on update) an
// installed skill's provenance.
func (s *Store) RegisterInstalledSkill(ctx context.Context, skillID, source, sourceURL, ref string) error {
	if strings.TrimSpace(skillID) == "" {
		return fmt.Errorf("empty skillID")
	}
	if strings.TrimSpace(source) == "" {
		source = "local"
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO installed_skills (skill_id, source, source_url, ref, installed_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(skill_id) DO UPDATE SET
				source = excluded.source,
				source_url = excluded.source_url,
				ref = excluded.ref,
				installed_at = CURRENT_TIMESTAMP;
		`, skillID, source, sourceURL, ref)
		if err != nil {
			return fmt.Errorf("register installed skill: %w", err)
		}
		return nil
	})
}

// ListInstalledSkills returns every installed skill's provenance
// record.
func (s *Store) ListInstalledSkills(ctx context.Context) ([]InstalledSkillRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT skill_id, source, source_url, ref, installed_at
		FROM installed_skills ORDER BY skill_id ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("list installed skills: %w", err)
	}
	defer rows.Close()

	var out []InstalledSkillRecord
	for rows.Next() {
		var rec InstalledSkillRecord
		if err := rows.Scan(&rec.SkillID, &rec.Source, &rec.SourceURL, &rec.Ref, &rec.InstalledAt); err != nil {
			return nil, fmt.Errorf("scan installed skill: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RemoveInstalledSkill deletes an installed skill's provenance record.
func (s *Store) RemoveInstalledSkill(ctx context.Context, skillID string) error {
	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM installed_skills WHERE skill_id = ?;`, skillID)
		if err != nil {
			return fmt.Errorf("remove installed skill: %w", err)
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			return fmt.Errorf("installed skill not found: %s", skillID)
		}
		return nil
	})
}
