package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ChangeNotice tells other devices that a replica path was written. It
// carries no data; receivers re-read the subtree.
type ChangeNotice struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	DeviceID  string    `json:"deviceId"`
	Timestamp time.Time `json:"timestamp"`
}

func NewChangeNotice(path, deviceID string) *ChangeNotice {
	return &ChangeNotice{
		ID:        uuid.NewString(),
		Path:      path,
		DeviceID:  deviceID,
		Timestamp: time.Now(),
	}
}

func (m *ChangeNotice) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ChangeNoticeFromJSON(data []byte) (*ChangeNotice, error) {
	var msg ChangeNotice
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
