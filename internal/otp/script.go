package otp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"text/template"
)

type ScriptInput struct {
	AutomationID string
	UserID       string
	Platform     string
	BaseURL      string
	Debug        bool
}

// The storefront script intercepts the checkout submit, asks for a code and
// only lets the form through once the code verified.
var scriptTemplate = template.Must(template.New("otp").Parse(`(function () {
  var cfg = {
    automationId: {{.AutomationID}},
    userId: {{.UserID}},
    requestUrl: {{.RequestURL}},
    verifyUrl: {{.VerifyURL}},
    debug: {{.Debug}}
  };
  function log() { if (cfg.debug && window.console) { console.log.apply(console, ["[otp]"].concat([].slice.call(arguments))); } }
  function post(url, body) {
    return fetch(url, { method: "POST", headers: { "Content-Type": "application/json" }, body: JSON.stringify(body) })
      .then(function (r) { return r.json().then(function (j) { return { ok: r.ok, body: j }; }); });
  }
  var verified = false;
  document.addEventListener("submit", function (e) {
    var form = e.target;
    if (verified || !form || !form.querySelector) { return; }
    var phoneInput = form.querySelector("input[type=tel], input[name*=phone]");
    if (!phoneInput || !phoneInput.value) { return; }
    e.preventDefault();
    var country = (form.querySelector("[name*=country]") || {}).value || "";
    var phone = phoneInput.value;
    log("requesting code for", phone);
    post(cfg.requestUrl, { phone: phone, shippingCountry: country }).then(function (res) {
      if (!res.ok) { alert(res.body.error || "Could not send the verification code"); return; }
      var code = window.prompt("Enter the verification code sent to your WhatsApp");
      if (!code) { return; }
      return post(cfg.verifyUrl, { userId: cfg.userId, automationId: cfg.automationId, phone: phone, otp: code, shippingCountry: country })
        .then(function (v) {
          if (!v.ok) { alert(v.body.error || "Invalid or expired verification code"); return; }
          verified = true;
          log("verified");
          if (form.requestSubmit) { form.requestSubmit(); } else { form.submit(); }
        });
    }).catch(function (err) { log("error", err); });
  }, true);
})();
`))

type scriptData struct {
	AutomationID string
	UserID       string
	RequestURL   string
	VerifyURL    string
	Debug        bool
}

// Script renders the storefront JavaScript for one automation. String values
// are emitted as JSON literals.
func Script(in ScriptInput) (string, error) {
	base := fmt.Sprintf("%s/otp/%s", in.BaseURL, in.Platform)
	data := scriptData{
		AutomationID: jsString(in.AutomationID),
		UserID:       jsString(in.UserID),
		RequestURL:   jsString(base + "/request?automationId=" + url.QueryEscape(in.AutomationID)),
		VerifyURL:    jsString(base + "/verify"),
		Debug:        in.Debug,
	}
	var buf bytes.Buffer
	if err := scriptTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render otp script: %w", err)
	}
	return buf.String(), nil
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
