package tracker

import (
	"path/filepath"
	"testing"

	"github.com/samuelfneumann/goracer/policy"
	"github.com/samuelfneumann/goracer/timestep"
)

func testTrajectory(length int, reward float64) timestep.Trajectory {
	trajectory := make(timestep.Trajectory, length)
	for i := 0; i < length; i++ {
		trajectory[i] = timestep.Experience{
			State:      []float64{0.0},
			Action:     []float64{0.0},
			Reward:     reward,
			EpisodePos: i,
			ExpPolicy: policy.Record{
				DistributionParams: []float64{0.0, 1.0},
				UnboundedAction:    []float64{0.0},
			},
		}
	}
	trajectory[length-1].Termination = timestep.Terminal
	return trajectory
}

// TestReturn round-trips episodic returns through a save file.
func TestReturn(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "returns.bin")
	tracker := NewReturn(filename)

	tracker.Track(testTrajectory(3, 1.0))
	tracker.Track(testTrajectory(5, -0.5))

	if err := tracker.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := LoadData(filename)
	if err != nil {
		t.Fatalf("loadData: %v", err)
	}
	if len(data) != 2 {
		t.Fatalf("loadData: wrong number of returns \n\twant(%v) "+
			"\n\thave(%v)", 2, len(data))
	}
	if data[0] != 3.0 || data[1] != -2.5 {
		t.Errorf("loadData: wrong returns \n\thave(%v)", data)
	}
}

// TestEpisodeLength round-trips episode lengths through a save file.
func TestEpisodeLength(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "lengths.bin")
	tracker := NewEpisodeLength(filename)

	tracker.Track(testTrajectory(3, 1.0))
	tracker.Track(testTrajectory(7, 1.0))

	if err := tracker.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := LoadData(filename)
	if err != nil {
		t.Fatalf("loadData: %v", err)
	}
	if len(data) != 2 || data[0] != 3.0 || data[1] != 7.0 {
		t.Errorf("loadData: wrong lengths \n\thave(%v)", data)
	}
}
