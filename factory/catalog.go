/*
Package factory converts catalog files into leave reference data.

PURPOSE:
  The engine treats leave types and the staff directory as read-only
  reference data owned by someone else. This package is the seam where
  that data enters: it parses a catalog file (JSON or TOML), validates it,
  and loads it into a store.

JSON SCHEMA:
  {
    "leave_types": [
      {
        "id": "casual",
        "name": "Casual Leave",
        "code": "CL",
        "max_days_per_year": 12,
        "allow_half_day": true,
        "requires_approval": true,
        "applicable_roles": ["faculty", "hod"]
      }
    ],
    "members": [
      {"id": "fac-1", "name": "A. Rao", "role": "faculty", "department_id": "cse"}
    ]
  }

TOML uses the same keys:
  [[leave_types]]
  id = "casual"
  max_days_per_year = 12
  ...

USAGE:
  cat, err := factory.LoadFile("catalog.toml")
  if err != nil { ... }
  err = cat.Apply(ctx, store)

SEE ALSO:
  - leave/types.go: LeaveTypeConfig, Member
  - api/scenarios.go: Builds catalogs for demo scenarios
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// FILE SCHEMA TYPES
// =============================================================================

type LeaveTypeJSON struct {
	ID               string   `json:"id" toml:"id"`
	Name             string   `json:"name" toml:"name"`
	Code             string   `json:"code,omitempty" toml:"code"`
	MaxDaysPerYear   float64  `json:"max_days_per_year" toml:"max_days_per_year"`
	AllowHalfDay     bool     `json:"allow_half_day" toml:"allow_half_day"`
	RequiresApproval *bool    `json:"requires_approval,omitempty" toml:"requires_approval"` // default true
	ApplicableRoles  []string `json:"applicable_roles,omitempty" toml:"applicable_roles"`
}

type MemberJSON struct {
	ID           string `json:"id" toml:"id"`
	Name         string `json:"name" toml:"name"`
	Role         string `json:"role" toml:"role"`
	DepartmentID string `json:"department_id,omitempty" toml:"department_id"`
}

type CatalogJSON struct {
	LeaveTypes []LeaveTypeJSON `json:"leave_types" toml:"leave_types"`
	Members    []MemberJSON    `json:"members" toml:"members"`
}

// Catalog is validated reference data ready to load into a store.
type Catalog struct {
	LeaveTypes []leave.LeaveTypeConfig
	Members    []leave.Member
}

// =============================================================================
// PARSING
// =============================================================================

func ParseJSON(data []byte) (*Catalog, error) {
	var raw CatalogJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid catalog JSON: %w", err)
	}
	return Convert(raw)
}

func ParseTOML(data []byte) (*Catalog, error) {
	var raw CatalogJSON
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, fmt.Errorf("invalid catalog TOML: %w", err)
	}
	return Convert(raw)
}

// LoadFile picks the parser from the file extension (.json or .toml).
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	case ".toml":
		return ParseTOML(data)
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", filepath.Ext(path))
	}
}

// Convert validates raw file data and builds the domain types.
func Convert(raw CatalogJSON) (*Catalog, error) {
	cat := &Catalog{}

	seen := make(map[string]bool)
	for i, lt := range raw.LeaveTypes {
		if lt.ID == "" {
			return nil, fmt.Errorf("leave_types[%d]: id is required", i)
		}
		if seen[lt.ID] {
			return nil, fmt.Errorf("leave_types[%d]: duplicate id %q", i, lt.ID)
		}
		seen[lt.ID] = true
		if lt.MaxDaysPerYear < 0 {
			return nil, fmt.Errorf("leave type %s: max_days_per_year must be >= 0", lt.ID)
		}

		cfg := leave.LeaveTypeConfig{
			ID:               lt.ID,
			Name:             lt.Name,
			Code:             lt.Code,
			MaxDaysPerYear:   decimal.NewFromFloat(lt.MaxDaysPerYear),
			AllowHalfDay:     lt.AllowHalfDay,
			RequiresApproval: true,
		}
		if cfg.Name == "" {
			cfg.Name = lt.ID
		}
		if lt.RequiresApproval != nil {
			cfg.RequiresApproval = *lt.RequiresApproval
		}
		for _, r := range lt.ApplicableRoles {
			role := leave.Role(strings.ToLower(r))
			if !role.Valid() || role == leave.RoleAdmin {
				return nil, fmt.Errorf("leave type %s: role %q cannot hold leave", lt.ID, r)
			}
			cfg.ApplicableRoles = append(cfg.ApplicableRoles, role)
		}
		cat.LeaveTypes = append(cat.LeaveTypes, cfg)
	}

	members := make(map[string]bool)
	for i, m := range raw.Members {
		if m.ID == "" {
			return nil, fmt.Errorf("members[%d]: id is required", i)
		}
		if members[m.ID] {
			return nil, fmt.Errorf("members[%d]: duplicate id %q", i, m.ID)
		}
		members[m.ID] = true
		role := leave.Role(strings.ToLower(m.Role))
		if !role.Valid() {
			return nil, fmt.Errorf("member %s: unknown role %q", m.ID, m.Role)
		}
		if role == leave.RoleHOD && m.DepartmentID == "" {
			return nil, fmt.Errorf("member %s: hod needs a department_id", m.ID)
		}
		name := m.Name
		if name == "" {
			name = m.ID
		}
		cat.Members = append(cat.Members, leave.Member{
			ID:           m.ID,
			Name:         name,
			Role:         role,
			DepartmentID: m.DepartmentID,
		})
	}

	return cat, nil
}

// Apply writes every leave type and member into the store.
func (c *Catalog) Apply(ctx context.Context, store leave.TxStore) error {
	return store.WithTx(ctx, func(tx leave.Store) error {
		for _, lt := range c.LeaveTypes {
			if err := tx.PutLeaveType(ctx, lt); err != nil {
				return fmt.Errorf("leave type %s: %w", lt.ID, err)
			}
		}
		for _, m := range c.Members {
			if err := tx.PutMember(ctx, m); err != nil {
				return fmt.Errorf("member %s: %w", m.ID, err)
			}
		}
		return nil
	})
}

// =============================================================================
// DEFAULT CATALOG
// =============================================================================

// DefaultCatalogJSON is the catalog the server loads when none is configured.
const DefaultCatalogJSON = `{
  "leave_types": [
    {"id": "casual", "name": "Casual Leave", "code": "CL", "max_days_per_year": 12, "allow_half_day": true},
    {"id": "sick", "name": "Sick Leave", "code": "SL", "max_days_per_year": 10, "allow_half_day": true},
    {"id": "earned", "name": "Earned Leave", "code": "EL", "max_days_per_year": 15, "allow_half_day": false},
    {"id": "duty", "name": "On Duty", "code": "OD", "max_days_per_year": 30, "allow_half_day": true, "requires_approval": false}
  ],
  "members": []
}`

func Default() *Catalog {
	cat, err := ParseJSON([]byte(DefaultCatalogJSON))
	if err != nil {
		panic(err)
	}
	return cat
}
