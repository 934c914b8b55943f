package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fleetlink-io/fleetlink/internal/db"
	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/protocol"
)

// gormStatusStore is the GORM implementation of StatusStore.
type gormStatusStore struct {
	db *gorm.DB
}

// NewStatusStore returns a StatusStore backed by the provided *gorm.DB.
func NewStatusStore(database *gorm.DB) StatusStore {
	return &gormStatusStore{db: database}
}

// Put upserts the row for the status's hostname. The stored last_heartbeat
// is stamped server-side; whatever the agent sent is ignored.
func (s *gormStatusStore) Put(ctx context.Context, status protocol.MachineStatus) error {
	conns, err := json.Marshal(status.IpConnections)
	if err != nil {
		return fmt.Errorf("status: put: encode connections: %w", err)
	}

	var ssh *int
	if status.SSH != nil {
		port := int(*status.SSH)
		ssh = &port
	}

	row := db.MachineStatusRow{
		Hostname:      status.Hostname.String(),
		ExternalIP:    status.ExternalIP,
		SSH:           ssh,
		DefaultUser:   status.DefaultUser,
		LastHeartbeat: time.Now().UTC(),
		IPConnections: string(conns),
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hostname"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("status: put: %w", err)
	}
	return nil
}

func (s *gormStatusStore) GetAll(ctx context.Context) (map[identity.Hostname]protocol.MachineStatus, error) {
	var rows []db.MachineStatusRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("status: get all: %w", err)
	}

	out := make(map[identity.Hostname]protocol.MachineStatus, len(rows))
	for _, row := range rows {
		hostname, err := identity.ParseHostname(row.Hostname)
		if err != nil {
			return nil, fmt.Errorf("status: get all: stored hostname: %w", err)
		}

		var conns []protocol.IpConnection
		if err := json.Unmarshal([]byte(row.IPConnections), &conns); err != nil {
			return nil, fmt.Errorf("status: get all: decode connections for %s: %w", hostname, err)
		}

		var ssh *uint16
		if row.SSH != nil {
			port := uint16(*row.SSH)
			ssh = &port
		}

		out[hostname] = protocol.MachineStatus{
			Hostname:      hostname,
			IpConnections: conns,
			ExternalIP:    row.ExternalIP,
			SSH:           ssh,
			LastHeartbeat: row.LastHeartbeat,
			DefaultUser:   row.DefaultUser,
		}
	}
	return out, nil
}
