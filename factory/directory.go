package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warp/procurement-engine/procurement"
	"gopkg.in/yaml.v3"
)

// DirectoryDocument is the file representation of the user directory the
// approval resolver routes to.
//
//	users:
//	  - id: u-mgr
//	    name: Dana Manager
//	    email: dana@example.com
//	    roles: [Manager_Procurement_Division]
type DirectoryDocument struct {
	Users []UserDoc `json:"users" yaml:"users"`
}

type UserDoc struct {
	ID    string   `json:"id" yaml:"id"`
	Name  string   `json:"name" yaml:"name"`
	Email string   `json:"email,omitempty" yaml:"email,omitempty"`
	Roles []string `json:"roles" yaml:"roles"`
}

// Directory is a loaded user list. It satisfies procurement.UserDirectory
// so a matrix can be resolved without a store.
type Directory []procurement.User

func (d Directory) UsersWithRole(_ context.Context, role procurement.Role) ([]procurement.User, error) {
	var out []procurement.User
	for _, u := range d {
		if u.HasRole(role) {
			out = append(out, u)
		}
	}
	return out, nil
}

// Seed saves every user into the store.
func (d Directory) Seed(ctx context.Context, store procurement.Store) error {
	for _, u := range d {
		if err := store.SaveUser(ctx, u); err != nil {
			return fmt.Errorf("saving user %s: %w", u.ID, err)
		}
	}
	return nil
}

// LoadDirectory reads a directory file; .json files are parsed as JSON,
// anything else as YAML.
func LoadDirectory(path string) (Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", path, err)
	}
	var doc DirectoryDocument
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse directory %s: %w", path, err)
	}
	dir, err := DirectoryFromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return dir, nil
}

// DirectoryFromDocument validates ids and roles and converts the document.
func DirectoryFromDocument(doc DirectoryDocument) (Directory, error) {
	seen := make(map[string]bool, len(doc.Users))
	dir := make(Directory, 0, len(doc.Users))
	for i, ud := range doc.Users {
		id := strings.TrimSpace(ud.ID)
		if id == "" {
			return nil, &procurement.ValidationError{Field: fmt.Sprintf("users[%d].id", i), Reason: "is required"}
		}
		if seen[id] {
			return nil, &procurement.ValidationError{Field: fmt.Sprintf("users[%d].id", i), Reason: fmt.Sprintf("duplicate user %q", id)}
		}
		seen[id] = true
		if len(ud.Roles) == 0 {
			return nil, &procurement.ValidationError{Field: fmt.Sprintf("users[%d].roles", i), Reason: "at least one role is required"}
		}
		u := procurement.User{ID: procurement.UserID(id), Name: ud.Name, Email: ud.Email}
		for _, r := range ud.Roles {
			u.Roles = append(u.Roles, procurement.Role(strings.TrimSpace(r)))
		}
		dir = append(dir, u)
	}
	return dir, nil
}
