package IO

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// TrainLog appends loss estimates to a CSV file.
type TrainLog struct {
	f *os.File
	w *csv.Writer
}

// NewTrainLog creates or truncates path and writes the header row.
func NewTrainLog(path string) (*TrainLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create training log: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"step", "train_loss", "val_loss", "lr"}); err != nil {
		f.Close()
		return nil, err
	}
	return &TrainLog{f: f, w: w}, nil
}

func (l *TrainLog) Record(step int, train, val, lr float64) error {
	err := l.w.Write([]string{
		strconv.Itoa(step),
		strconv.FormatFloat(train, 'f', 4, 64),
		strconv.FormatFloat(val, 'f', 4, 64),
		strconv.FormatFloat(lr, 'g', 6, 64),
	})
	if err != nil {
		return err
	}
	l.w.Flush()
	return l.w.Error()
}

func (l *TrainLog) Close() error {
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
