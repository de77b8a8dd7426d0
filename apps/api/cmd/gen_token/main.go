// gen_token prints a dashboard session token for local API testing.
// Send it as the civicdesk_admin_session cookie.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	email := flag.String("email", "admin@civicdesk.local", "administrator email")
	role := flag.String("role", "admin", "admin or department_staff")
	ttl := flag.Duration("ttl", 8*time.Hour, "token lifetime")
	flag.Parse()

	signingSecret := strings.TrimSpace(os.Getenv("APP_SIGNING_SECRET"))
	if len(signingSecret) < 16 {
		fmt.Fprintln(os.Stderr, "APP_SIGNING_SECRET must be at least 16 characters")
		os.Exit(1)
	}
	if *role != "admin" && *role != "department_staff" {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(1)
	}

	claims := jwt.MapClaims{
		"email": strings.ToLower(strings.TrimSpace(*email)),
		"role":  *role,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(*ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(signingSecret))
	if err != nil {
		panic(err)
	}
	fmt.Println(signedToken)
}
