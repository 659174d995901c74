package handler

import (
	"fmt"
	"html/template"
	"net/http"
	"petshop-checkout/internal/middleware"
	"petshop-checkout/internal/service"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

const checkoutCookie = "checkout_token"

func currentCustomer(c echo.Context) (service.Customer, error) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return service.Customer{}, toHTTPError(service.ErrAuthenticationRequired)
	}
	return service.Customer{ID: identity.UserID, Email: identity.Email}, nil
}

func checkoutToken(c echo.Context) string {
	cookie, err := c.Cookie(checkoutCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func setCheckoutToken(c echo.Context, token string, ttl time.Duration) {
	c.SetCookie(&http.Cookie{
		Name:     checkoutCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(ttl),
	})
}

func clearCheckoutToken(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     checkoutCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func uintParam(c echo.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
	}
	return uint(v), nil
}

var resultPage = template.Must(template.New("result").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<title>{{.Title}}</title>
	<style>
		body {
			font-family: Arial, sans-serif;
			text-align: center;
			margin-top: 80px;
		}
		.countdown {
			font-size: 24px;
			font-weight: bold;
		}
	</style>
</head>
<body>
	<h2>{{.Title}}</h2>
	<p>{{.Message}}</p>
	<p>Redirecting in <span class="countdown" id="countdown">{{.Seconds}}</span> seconds…</p>

	<script>
		let seconds = {{.Seconds}};
		const el = document.getElementById("countdown");

		const timer = setInterval(function () {
			seconds--;
			el.textContent = seconds;

			if (seconds <= 0) {
				clearInterval(timer);
				window.location.href = {{.Redirect}};
			}
		}, 1000);
	</script>
</body>
</html>
`))

type resultPageData struct {
	Title    string
	Message  string
	Redirect string
	Seconds  int
}

func renderResult(c echo.Context, status int, data resultPageData) error {
	if data.Seconds == 0 {
		data.Seconds = 10
	}
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(status)
	return resultPage.Execute(c.Response(), data)
}
