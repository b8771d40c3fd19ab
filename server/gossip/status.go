package gossip

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/andydunstall/murmur/pkg/gossip"
	"github.com/andydunstall/murmur/server/status"
)

type errorMessage struct {
	Error string `json:"error"`
}

type Status struct {
	gossip *Gossip
}

func NewStatus(gossip *Gossip) *Status {
	return &Status{
		gossip: gossip,
	}
}

func (s *Status) Register(group *gin.RouterGroup) {
	group.GET("/members", s.listMembersRoute)
	group.GET("/members/:id", s.getMemberRoute)
	group.POST("/members/:id/depart", s.departMemberRoute)
	group.GET("/rumors/:kind", s.listRumorsRoute)
	group.GET("/rumors/:kind/:key", s.listRumorsRoute)
}

func (s *Status) listMembersRoute(c *gin.Context) {
	c.JSON(http.StatusOK, s.gossip.Members())
}

func (s *Status) getMemberRoute(c *gin.Context) {
	id := c.Param("id")
	state, ok := s.gossip.Member(id)
	if !ok {
		c.JSON(http.StatusNotFound, &errorMessage{Error: "member not found"})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Status) departMemberRoute(c *gin.Context) {
	id := c.Param("id")
	if id == s.gossip.LocalID() {
		c.JSON(http.StatusBadRequest, &errorMessage{
			Error: "cannot depart local member",
		})
		return
	}

	if err := s.gossip.Depart(id); err != nil {
		if errors.Is(err, gossip.ErrMissingMemberID) {
			c.JSON(http.StatusBadRequest, &errorMessage{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, &errorMessage{Error: err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (s *Status) listRumorsRoute(c *gin.Context) {
	kind, err := gossip.ParseRumorKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusNotFound, &errorMessage{Error: err.Error()})
		return
	}

	rumors := s.gossip.Rumors(kind, c.Param("key"))
	if rumors == nil {
		rumors = []gossip.Rumor{}
	}
	c.JSON(http.StatusOK, rumors)
}

var _ status.Handler = &Status{}
