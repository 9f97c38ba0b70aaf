package item

import "strconv"

// SignatureBuffer 构造 BEP44 签名内容
//
//	4:salt<len>:<salt>3:seqi<seq>e1:v<len>:<v>
//
// salt 为空时省略 salt 部分。
func SignatureBuffer(salt []byte, seq int64, v []byte) []byte {
	buf := make([]byte, 0, len(salt)+len(v)+48)
	if len(salt) > 0 {
		buf = append(buf, "4:salt"...)
		buf = strconv.AppendInt(buf, int64(len(salt)), 10)
		buf = append(buf, ':')
		buf = append(buf, salt...)
	}
	buf = append(buf, "3:seqi"...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, "e1:v"...)
	return append(buf, EncodeValue(v)...)
}
