package privs

import (
	"os/user"
	"strconv"
)

// lookupHomeDir resolves uid's home directory via the host's user
// database, returning "" if it cannot be resolved.
func lookupHomeDir(uid int) string {
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return ""
	}
	return u.HomeDir
}
