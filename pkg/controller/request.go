package controller

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/maximthomas/goradius/pkg/log"
	"github.com/maximthomas/goradius/pkg/middleware"
	"github.com/maximthomas/goradius/pkg/pairs"
	"github.com/maximthomas/goradius/pkg/request"
	"github.com/sirupsen/logrus"
	"layeh.com/radius"
)

// Processor turns a request into a reply code. Zero means no reply.
type Processor interface {
	Process(r *request.Request) radius.Code
}

// RequestController runs synthetic requests through the processor, for
// testing module configuration without a NAS.
type RequestController struct {
	processor Processor
	logger    logrus.FieldLogger
}

type processRequest struct {
	Code   string     `json:"code" binding:"required"`
	Client string     `json:"client"`
	Pairs  pairs.List `json:"pairs"`
}

type processResponse struct {
	ID      string     `json:"id"`
	Code    string     `json:"code"`
	Reply   pairs.List `json:"reply"`
	Control pairs.List `json:"control"`
}

var packetCodes = map[string]radius.Code{
	"access-request":     radius.CodeAccessRequest,
	"accounting-request": radius.CodeAccountingRequest,
}

func parseCode(s string) (radius.Code, bool) {
	if code, ok := packetCodes[strings.ToLower(s)]; ok {
		return code, true
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	code := radius.Code(n)
	return code, code == radius.CodeAccessRequest || code == radius.CodeAccountingRequest
}

// Process gin handler function
func (rc *RequestController) Process(c *gin.Context) {
	var body processRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		rc.logger.Errorf("error binding json body %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}
	code, ok := parseCode(body.Code)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported packet code"})
		return
	}
	for _, p := range body.Pairs {
		if p.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pair name is required"})
			return
		}
	}

	r := request.New(c.Request.Context(), code, body.Pairs)
	r.Client = parseClient(body.Client, c.ClientIP())
	rc.logger.Debugf("%s requested %s for %q", middleware.Subject(c), code, r.UserName())

	reply := rc.processor.Process(r)
	resp := processResponse{ID: r.ID, Code: "none", Reply: r.Reply, Control: r.Control}
	if reply != 0 {
		resp.Code = reply.String()
	}
	c.JSON(http.StatusOK, resp)
}

// parseClient prefers the client named in the body over the caller address.
func parseClient(client, remote string) net.IP {
	if ip := net.ParseIP(client); ip != nil {
		return ip
	}
	return net.ParseIP(remote)
}

func NewRequestController(p Processor) *RequestController {
	return &RequestController{
		processor: p,
		logger:    log.WithField("module", "RequestController"),
	}
}
