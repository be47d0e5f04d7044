// Package database holds the pure parts of tenant provisioning: the
// administrative command of each engine dialect and the connection URIs
// handed back to projects.
package database

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/artpar/deployer/internal/core/domain"
)

// =============================================================================
// Identifiers
// =============================================================================

var identifierRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateIdentifier rejects names that cannot be inlined into an
// administrative command as-is.
func ValidateIdentifier(field, value string) error {
	if !identifierRegex.MatchString(value) {
		return domain.NewValidationError(field, fmt.Sprintf("%q must match [A-Za-z0-9_-] and be 1-64 characters", value))
	}
	return nil
}

// ValidateTenant checks the database name and user of a tenant.
func ValidateTenant(dbName, user string) error {
	if err := ValidateIdentifier("nombre", dbName); err != nil {
		return err
	}
	return ValidateIdentifier("usuario", user)
}

// =============================================================================
// Engine Defaults
// =============================================================================

// DataDir returns where an engine keeps its data inside the container.
func DataDir(kind domain.EngineKind) string {
	if kind == domain.EngineSQL {
		return "/var/lib/mysql"
	}
	return "/data/db"
}

// Admin holds the superuser credentials of an engine container.
type Admin struct {
	User     string
	Password string
	Port     int
}

// InitEnv returns the environment that bootstraps the engine's superuser.
func InitEnv(kind domain.EngineKind, admin Admin) []string {
	if kind == domain.EngineSQL {
		return []string{"MYSQL_ROOT_PASSWORD=" + admin.Password}
	}
	return []string{
		"MONGO_INITDB_ROOT_USERNAME=" + admin.User,
		"MONGO_INITDB_ROOT_PASSWORD=" + admin.Password,
	}
}

// =============================================================================
// Administrative Commands
// =============================================================================

// Command is an argv executed inside the engine container.
type Command struct {
	Cmd []string
	Env []string
}

// Op returns the error operation of a tenant command for the dialect.
func Op(kind domain.EngineKind) domain.Op {
	if kind == domain.EngineSQL {
		return domain.OpSQLTenant
	}
	return domain.OpDocumentTenant
}

// CreateTenant returns the command creating a database and a user scoped to it.
// dbName and user must have passed ValidateTenant.
func CreateTenant(kind domain.EngineKind, admin Admin, dbName, user, password string) Command {
	if kind == domain.EngineSQL {
		sql := strings.Join([]string{
			fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`;", dbName),
			fmt.Sprintf("CREATE USER IF NOT EXISTS '%s'@'%%' IDENTIFIED BY '%s';", user, sqlString(password)),
			fmt.Sprintf("GRANT ALL PRIVILEGES ON `%s`.* TO '%s'@'%%';", dbName, user),
			"FLUSH PRIVILEGES;",
		}, "\n")
		return mysql(admin, sql)
	}

	script := strings.Join([]string{
		fmt.Sprintf("const tenant = db.getSiblingDB('%s');", dbName),
		fmt.Sprintf("if (!tenant.getUser('%s')) {", user),
		fmt.Sprintf("  tenant.createUser({ user: '%s', pwd: '%s', roles: [{ role: 'readWrite', db: '%s' }] });", user, jsString(password), dbName),
		"}",
		fmt.Sprintf("tenant.users.insertOne({ username: '%s', role: 'readWrite', createdAt: new Date() });", user),
	}, "\n")
	return mongosh(admin, script)
}

// DropTenant returns the command removing a tenant. Dropping a tenant that
// does not exist succeeds.
func DropTenant(kind domain.EngineKind, admin Admin, dbName, user string) Command {
	if kind == domain.EngineSQL {
		sql := strings.Join([]string{
			fmt.Sprintf("DROP DATABASE IF EXISTS `%s`;", dbName),
			fmt.Sprintf("DROP USER IF EXISTS '%s'@'%%';", user),
			"FLUSH PRIVILEGES;",
		}, "\n")
		return mysql(admin, sql)
	}

	script := strings.Join([]string{
		fmt.Sprintf("const tenant = db.getSiblingDB('%s');", dbName),
		fmt.Sprintf("if (tenant.getUser('%s')) { tenant.dropUser('%s'); }", user, user),
		"tenant.dropDatabase();",
	}, "\n")
	return mongosh(admin, script)
}

func mysql(admin Admin, sql string) Command {
	user := admin.User
	if user == "" {
		user = "root"
	}
	return Command{
		Cmd: []string{"mysql", "-u", user, "-e", sql},
		Env: []string{"MYSQL_PWD=" + admin.Password},
	}
}

func mongosh(admin Admin, script string) Command {
	return Command{Cmd: []string{
		"mongosh",
		"--port", strconv.Itoa(admin.Port),
		"-u", admin.User,
		"-p", admin.Password,
		"--authenticationDatabase", "admin",
		"--quiet",
		"--eval", script,
	}}
}

func sqlString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `''`).Replace(s)
}

func jsString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`).Replace(s)
}

// =============================================================================
// Connection URIs
// =============================================================================

// ConnectionURI builds the URI a project uses to reach its tenant from
// outside the shared network. Components are URL-escaped.
//
//	mysql://u:p@host:3307/db
//	mongodb://u:p@host:3309/db?authSource=db
func ConnectionURI(kind domain.EngineKind, host string, port int, dbName, user, password string) string {
	scheme := "mongodb"
	if kind == domain.EngineSQL {
		scheme = "mysql"
	}
	u := url.URL{
		Scheme: scheme,
		User:   url.UserPassword(user, password),
		Host:   host + ":" + strconv.Itoa(port),
		Path:   "/" + dbName,
	}
	if kind == domain.EngineDocument {
		u.RawQuery = "authSource=" + url.QueryEscape(dbName)
	}
	return u.String()
}
