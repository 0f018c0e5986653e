package printarr

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

type ClientAuth struct {
	ByJwt      string
	InstanceId Id
	AppVersion string
}

func NewClientAuth(byJwt string, appVersion string) *ClientAuth {
	return &ClientAuth{
		ByJwt:      byJwt,
		InstanceId: NewId(),
		AppVersion: appVersion,
	}
}

type ByJwt struct {
	UserId   Id
	UserName string
}

// ParseByJwtUnverified reads claims without verifying the signature.
// the server verifies; the client only needs the ids for labeling.
func ParseByJwtUnverified(jwt string) (*ByJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	byJwt := &ByJwt{}
	if userIdStr, ok := claims["user_id"].(string); ok {
		if userId, err := ParseId(userIdStr); err == nil {
			byJwt.UserId = userId
		}
	}
	if userName, ok := claims["user_name"].(string); ok {
		byJwt.UserName = userName
	}
	return byJwt, nil
}

func (self *ClientAuth) UserId() (Id, error) {
	byJwt, err := ParseByJwtUnverified(self.ByJwt)
	if err != nil {
		return Id{}, err
	}
	return byJwt.UserId, nil
}
