package role

import "strings"

type Role string

const (
	Admin     Role = "ADMIN"
	Client    Role = "CLIENT"
	Support   Role = "SUPPORT"
	Moderator Role = "MODERATOR"
)

// All - все роли, которые может иметь пользователь
var All = []Role{Admin, Client, Support, Moderator}

// Staff - роли сотрудников агентства
var Staff = []Role{Admin, Support, Moderator}

func (r Role) IsStaff() bool {
	return r == Admin || r == Support || r == Moderator
}

func (r Role) Valid() bool {
	for _, v := range All {
		if r == v {
			return true
		}
	}
	return false
}

// Parse принимает роль в любом регистре ("admin", "Admin") и сообщает, известна ли она
func Parse(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	return r, r.Valid()
}
