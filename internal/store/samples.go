package store

import (
	"fmt"
	"time"

	"github.com/lazypower/heatmap/internal/graph"
)

// Sample is one persisted stats reading.
type Sample struct {
	ID      int64 `json:"id"`
	TakenAt int64 `json:"takenAt"` // unix millis
	graph.Stats
}

// RecordStats appends a stats sample taken at the given time.
func (db *DB) RecordStats(st graph.Stats, at time.Time) error {
	_, err := db.Exec(`
		INSERT INTO stats_samples
			(taken_at, node_count, connection_count, active_nodes, total_volume, peak_activity, network_density)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, at.UnixMilli(), st.NodeCount, st.ConnectionCount, st.ActiveNodes, st.TotalVolume, st.PeakActivity, st.NetworkDensity)
	if err != nil {
		return fmt.Errorf("record stats: %w", err)
	}
	return nil
}

// RecentStats returns up to limit samples, newest first.
func (db *DB) RecentStats(limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, taken_at, node_count, connection_count, active_nodes, total_volume, peak_activity, network_density
		FROM stats_samples ORDER BY taken_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent stats: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.ID, &s.TakenAt, &s.NodeCount, &s.ConnectionCount, &s.ActiveNodes,
			&s.TotalVolume, &s.PeakActivity, &s.NetworkDensity); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PruneStats deletes samples taken before the cutoff and returns how many
// were removed.
func (db *DB) PruneStats(before time.Time) (int64, error) {
	res, err := db.Exec("DELETE FROM stats_samples WHERE taken_at < ?", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune stats: %w", err)
	}
	return res.RowsAffected()
}
