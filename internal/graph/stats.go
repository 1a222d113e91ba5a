package graph

// ActiveIntensity is the intensity above which a node counts as active.
const ActiveIntensity = 50.0

// Stats summarizes a snapshot for the dashboard.
type Stats struct {
	NodeCount       int     `json:"nodeCount"`
	ConnectionCount int     `json:"connectionCount"`
	ActiveNodes     int     `json:"activeNodes"`
	TotalVolume     float64 `json:"totalVolume"`
	PeakActivity    float64 `json:"peakActivity"`
	NetworkDensity  float64 `json:"networkDensity"`
}

// ComputeStats derives the summary counters from a snapshot. An empty
// snapshot yields all zeros.
func ComputeStats(s Snapshot) Stats {
	st := Stats{
		NodeCount:       len(s.Nodes),
		ConnectionCount: len(s.Connections),
	}
	for _, n := range s.Nodes {
		if n.Intensity > ActiveIntensity {
			st.ActiveNodes++
		}
		st.TotalVolume += n.Magnitude
		if n.Intensity > st.PeakActivity {
			st.PeakActivity = n.Intensity
		}
	}
	st.NetworkDensity = float64(st.ConnectionCount) / float64(max(st.NodeCount, 1)) * 100
	return st
}
