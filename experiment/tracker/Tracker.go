// Package tracker implements Trackers, which record per-episode data
// during an experiment and save it after the experiment has finished.
package tracker

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/samuelfneumann/goracer/timestep"
)

// Tracker records data from each completed trajectory of an experiment
// and saves the accumulated data to disk.
type Tracker interface {
	Track(trajectory timestep.Trajectory)
	Save() error
}

// LoadData loads and returns the data saved by a Tracker.
func LoadData(filename string) ([]float64, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("loadData: %v", err)
	}
	defer file.Close()

	var data []float64
	if err := gob.NewDecoder(file).Decode(&data); err != nil {
		return nil, fmt.Errorf("loadData: %v", err)
	}
	return data, nil
}

// save gob-encodes data to filename.
func save(filename string, data []float64) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("save: %v", err)
	}

	if err := gob.NewEncoder(file).Encode(data); err != nil {
		file.Close()
		return fmt.Errorf("save: %v", err)
	}
	return file.Close()
}
